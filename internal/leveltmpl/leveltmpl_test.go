package leveltmpl

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/opsforge/hiera-registry/internal/metrics"
)

func TestPlaceholders(t *testing.T) {
	tests := []struct {
		name    string
		levelID string
		want    []string
	}{
		{"no placeholders", "common.yaml", nil},
		{"single placeholder", "nodes/{fqdn}.yaml", []string{"fqdn"}},
		{"multiple placeholders", "{environment}/{role}.yaml", []string{"environment", "role"}},
		{"repeated placeholder", "{stage}/{stage}-{region}", []string{"stage", "region"}},
		{"underscore name", "os/{os_family}.yaml", []string{"os_family"}},
		{"invalid name ignored", "bad/{1abc}.yaml", nil},
		{"unclosed brace ignored", "bad/{fqdn.yaml", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Placeholders(tt.levelID)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Placeholders(%q) = %v, want %v", tt.levelID, got, tt.want)
			}
		})
	}
}

func TestExpand(t *testing.T) {
	facts := map[string]string{
		"fqdn":  "web01.example.com",
		"stage": "production",
	}

	tests := []struct {
		name    string
		levelID string
		want    string
		wantErr bool
	}{
		{"literal", "common.yaml", "common.yaml", false},
		{"single", "nodes/{fqdn}.yaml", "nodes/web01.example.com.yaml", false},
		{"two facts", "{stage}/{fqdn}", "production/web01.example.com", false},
		{"missing fact", "role/{role}.yaml", "", true},
		{"one of two missing", "{stage}/{role}", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Expand(tt.levelID, facts)
			if tt.wantErr {
				if !errors.Is(err, ErrMissingFact) {
					t.Errorf("Expected ErrMissingFact, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Expand failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("Expand(%q) = %q, want %q", tt.levelID, got, tt.want)
			}
		})
	}
}

func TestCanExpand(t *testing.T) {
	facts := map[string]string{"fqdn": "web01"}

	if !CanExpand("common.yaml", nil) {
		t.Error("Expected literal level to always expand")
	}
	if !CanExpand("nodes/{fqdn}.yaml", facts) {
		t.Error("Expected level to expand with fqdn fact present")
	}
	if CanExpand("{stage}/{fqdn}", facts) {
		t.Error("Expected level not to expand with stage fact missing")
	}
}

func TestNormalize(t *testing.T) {
	facts := map[string]string{
		"fqdn":  "web01",
		"stage": "production",
		"extra": "ignored",
	}

	got := Normalize("{stage}/{fqdn}", facts)
	want := map[string]string{"fqdn": "web01", "stage": "production"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Normalize() = %v, want %v", got, want)
	}

	got = Normalize("common.yaml", facts)
	if len(got) != 0 {
		t.Errorf("Expected no facts for literal level, got %v", got)
	}
}

func TestValidate(t *testing.T) {
	facts := map[string]string{"fqdn": "web01"}

	if err := Validate("nodes/{fqdn}.yaml", "nodes/web01.yaml", facts); err != nil {
		t.Errorf("Expected match, got %v", err)
	}
	if err := Validate("nodes/{fqdn}.yaml", "nodes/other.yaml", facts); err == nil {
		t.Error("Expected mismatch error")
	}
	if err := Validate("nodes/{fqdn}.yaml", "nodes/web01.yaml", nil); !errors.Is(err, ErrMissingFact) {
		t.Errorf("Expected ErrMissingFact, got %v", err)
	}
}

func TestString(t *testing.T) {
	if got := String(nil); got != "{}" {
		t.Errorf("Expected {}, got %s", got)
	}
	got := String(map[string]string{"b": "2", "a": "1"})
	if got != "{a=1,b=2}" {
		t.Errorf("Expected {a=1,b=2}, got %s", got)
	}
}

func TestStartCleanup(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := metrics.New()
	Placeholders("nodes/{fqdn}.yaml")
	StartCleanup(ctx, 5*time.Millisecond, m)

	// The sweeper publishes the template cache size after each pass
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		rec := httptest.NewRecorder()
		m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
		if strings.Contains(rec.Body.String(), `hiera_registry_projection_size{projection="level_templates"}`) {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("Timed out waiting for cleanup pass to publish cache size")
}
