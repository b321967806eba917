package streaming

import "context"

// Authenticator produces the credentials a session streams with.
type Authenticator interface {
	Authenticate(ctx context.Context, cfg Config, doer Doer) (Credentials, error)
}

// SOAPAuthenticator logs in with the SOAP partner login exchange.
type SOAPAuthenticator struct {
	Observers []RequestObserver
}

// Authenticate runs Login.
func (auth *SOAPAuthenticator) Authenticate(ctx context.Context, cfg Config, doer Doer) (Credentials, error) {
	var list []RequestObserver
	if auth != nil {
		list = auth.Observers
	}
	return Login(ctx, cfg, doer, list...)
}

// StaticAuthenticator returns credentials obtained elsewhere.
type StaticAuthenticator struct {
	Credentials Credentials
}

// Authenticate returns the stored credentials, rejecting incomplete ones.
func (auth StaticAuthenticator) Authenticate(ctx context.Context, cfg Config, doer Doer) (Credentials, error) {
	if auth.Credentials.SessionToken == "" || auth.Credentials.ServiceHost == "" {
		return Credentials{}, stageError(AuthRejectedError, stageLogin, "static credentials are incomplete")
	}
	return auth.Credentials, nil
}
