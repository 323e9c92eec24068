package viabill

import (
	"fmt"

	"go.uber.org/zap/zapcore"
)

// Credentials identify the merchant towards the gateway.
type Credentials struct {
	APIKey    string
	APISecret string
	TestMode  bool
}

func (c Credentials) String() string {
	return fmt.Sprintf("Credentials{APIKey:%q APISecret:[REDACTED] TestMode:%t}", c.APIKey, c.TestMode)
}

func (c Credentials) GoString() string { return c.String() }

// MarshalLogObject lets credentials be logged with zap.Object; the secret is never emitted.
func (c Credentials) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("api_key", c.APIKey)
	enc.AddBool("has_secret", c.APISecret != "")
	enc.AddBool("test_mode", c.TestMode)
	return nil
}
