package inventory

import (
	"context"
	"database/sql"
	"time"

	"github.com/jianglibo/bkoverssh/pkg/helper/errors"
)

// TryClaimSchedule implements the scheduler's at-most-once gate (spec.md
// §8 item 6): it attempts to insert the (serverYmlPath, taskName,
// timeExecution) key. Exactly one concurrent caller for the same key wins
// the insert and gets claimed=true; every other caller, including repeat
// calls after a restart, observes the row already exists and gets
// claimed=false.
func (s *Store) TryClaimSchedule(ctx context.Context, serverYmlPath, taskName string, timeExecution time.Time) (claimed bool, err error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO schedule_done (server_yml_path, task_name, time_execution, done)
		 VALUES (?, ?, ?, 0)
		 ON CONFLICT(server_yml_path, task_name, time_execution) DO NOTHING`,
		serverYmlPath, taskName, rfc3339(timeExecution))
	if err != nil {
		return false, errors.Wrap(err, "claim schedule row %s/%s", serverYmlPath, taskName)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "check schedule claim result")
	}
	return n > 0, nil
}

// MarkScheduleDone flips done=true for a previously claimed schedule row,
// so a later restart does not re-fire it.
func (s *Store) MarkScheduleDone(ctx context.Context, serverYmlPath, taskName string, timeExecution time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE schedule_done SET done = 1
		  WHERE server_yml_path = ? AND task_name = ? AND time_execution = ?`,
		serverYmlPath, taskName, rfc3339(timeExecution))
	if err != nil {
		return errors.Wrap(err, "mark schedule row done %s/%s", serverYmlPath, taskName)
	}
	return nil
}

// ScheduleRow fetches the persisted row for a given key, if any.
func (s *Store) ScheduleRow(ctx context.Context, serverYmlPath, taskName string, timeExecution time.Time) (ScheduleRow, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, server_yml_path, task_name, time_execution, done
		   FROM schedule_done
		  WHERE server_yml_path = ? AND task_name = ? AND time_execution = ?`,
		serverYmlPath, taskName, rfc3339(timeExecution))

	var (
		r         ScheduleRow
		execText  string
		doneInt   int
	)
	err := row.Scan(&r.ID, &r.ServerYmlPath, &r.TaskName, &execText, &doneInt)
	if err == sql.ErrNoRows {
		return ScheduleRow{}, false, nil
	}
	if err != nil {
		return ScheduleRow{}, false, errors.Wrap(err, "lookup schedule row %s/%s", serverYmlPath, taskName)
	}
	r.TimeExecution = parseRFC3339(execText)
	r.Done = doneInt != 0
	return r, true, nil
}
