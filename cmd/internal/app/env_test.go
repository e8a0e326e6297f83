package app

import (
	"reflect"
	"testing"
	"time"
)

func TestEnvString(t *testing.T) {
	t.Setenv("TETHER_TEST_STR", "  value  ")
	if got := EnvString("TETHER_TEST_STR", "def"); got != "value" {
		t.Fatalf("got %q", got)
	}
	if got := EnvString("TETHER_TEST_STR_MISSING", "def"); got != "def" {
		t.Fatalf("default: got %q", got)
	}
}

func TestEnvBool(t *testing.T) {
	t.Setenv("TETHER_TEST_BOOL", "true")
	if !EnvBool("TETHER_TEST_BOOL", false) {
		t.Fatalf("expected true")
	}

	t.Setenv("TETHER_TEST_BOOL", "not-a-bool")
	if !EnvBool("TETHER_TEST_BOOL", true) {
		t.Fatalf("invalid value should fall back to default")
	}
}

func TestEnvInt(t *testing.T) {
	t.Setenv("TETHER_TEST_INT", "42")
	if got := EnvInt("TETHER_TEST_INT", 7); got != 42 {
		t.Fatalf("got %d", got)
	}

	t.Setenv("TETHER_TEST_INT", "-3")
	if got := EnvInt("TETHER_TEST_INT", 7); got != 7 {
		t.Fatalf("non-positive should fall back: got %d", got)
	}
}

func TestEnvDuration(t *testing.T) {
	t.Setenv("TETHER_TEST_DUR", "90s")
	if got := EnvDuration("TETHER_TEST_DUR", time.Second); got != 90*time.Second {
		t.Fatalf("got %v", got)
	}

	t.Setenv("TETHER_TEST_DUR", "ninety")
	if got := EnvDuration("TETHER_TEST_DUR", time.Second); got != time.Second {
		t.Fatalf("invalid should fall back: got %v", got)
	}
}

func TestEnvStrings(t *testing.T) {
	t.Setenv("TETHER_TEST_CSV", " a , ,b,")
	want := []string{"a", "b"}
	if got := EnvStrings("TETHER_TEST_CSV", nil); !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}

	t.Setenv("TETHER_TEST_CSV", " , ,")
	def := []string{"x"}
	if got := EnvStrings("TETHER_TEST_CSV", def); !reflect.DeepEqual(got, def) {
		t.Fatalf("blank csv should fall back: got %v", got)
	}
}
