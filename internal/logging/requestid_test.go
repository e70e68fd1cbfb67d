package logging

import (
	"context"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestGenerateRequestID(t *testing.T) {
	id := GenerateRequestID()
	if len(id) != 8 {
		t.Errorf("GenerateRequestID() length = %d, want 8", len(id))
	}

	id2 := GenerateRequestID()
	if id == id2 {
		t.Errorf("GenerateRequestID() generated duplicate IDs: %s", id)
	}
}

func TestRequestIDContext(t *testing.T) {
	ctx := context.Background()
	id := "test1234"

	if got := GetRequestID(ctx); got != "" {
		t.Errorf("GetRequestID(empty context) = %q, want empty string", got)
	}

	ctx = WithRequestID(ctx, id)
	if got := GetRequestID(ctx); got != id {
		t.Errorf("GetRequestID() = %q, want %q", got, id)
	}
}

func TestFromContext_AttachesRequestID(t *testing.T) {
	entry := FromContext(WithRequestID(context.Background(), "abcd0001"))
	if got := entry.Data["request_id"]; got != "abcd0001" {
		t.Errorf("request_id field = %v, want abcd0001", got)
	}

	bare := FromContext(context.Background())
	if _, ok := bare.Data["request_id"]; ok {
		t.Error("entry without request id should not carry the field")
	}
}

func TestSetup_FallsBackToInfo(t *testing.T) {
	defer logrus.SetLevel(logrus.GetLevel())

	Setup("not-a-level", "text")
	if logrus.GetLevel() != logrus.InfoLevel {
		t.Errorf("level = %v, want info", logrus.GetLevel())
	}

	Setup("debug", "json")
	if logrus.GetLevel() != logrus.DebugLevel {
		t.Errorf("level = %v, want debug", logrus.GetLevel())
	}
	if _, ok := logrus.StandardLogger().Formatter.(*logrus.JSONFormatter); !ok {
		t.Errorf("formatter = %T, want *logrus.JSONFormatter", logrus.StandardLogger().Formatter)
	}
}
