package transport

import "testing"

func TestAuthMethodsRejectsMalformedKey(t *testing.T) {
	_, err := authMethods(Config{PrivateKeyPEM: []byte("not a key")})
	if err == nil {
		t.Fatal("expected error for malformed private key")
	}
}

func TestAuthMethodsFallsBackToPassword(t *testing.T) {
	methods, err := authMethods(Config{Password: "secret"})
	if err != nil {
		t.Fatalf("authMethods: %v", err)
	}
	if len(methods) != 1 {
		t.Fatalf("expected exactly one auth method, got %d", len(methods))
	}
}
