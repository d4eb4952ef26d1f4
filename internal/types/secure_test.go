package types

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"
)

func TestSecretString_NeverPrints(t *testing.T) {
	s := SecretString("sg-api-key-123")

	if got := fmt.Sprintf("%s %v", s, s); strings.Contains(got, "sg-api-key-123") {
		t.Errorf("fmt leaked the secret: %q", got)
	}

	out, err := json.Marshal(struct {
		Key SecretString `json:"key"`
	}{Key: s})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if strings.Contains(string(out), "sg-api-key-123") {
		t.Errorf("json leaked the secret: %s", out)
	}
	if s.Unmask() != "sg-api-key-123" {
		t.Error("Unmask should return the raw value")
	}
}

func TestSecretString_IsSet(t *testing.T) {
	if SecretString("").IsSet() {
		t.Error("empty secret reported as set")
	}
	if !SecretString("x").IsSet() {
		t.Error("non-empty secret reported as unset")
	}
}
