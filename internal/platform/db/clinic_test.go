package db

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func newClinicContext(target string) echo.Context {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec)
}

func TestExtractClinicID_FromHeader(t *testing.T) {
	c := newClinicContext("/")
	c.Request().Header.Set("X-Clinic-ID", "sede_norte")

	if cid := extractClinicID(c, "default"); cid != "sede_norte" {
		t.Errorf("expected sede_norte, got %s", cid)
	}
}

func TestExtractClinicID_FromQuery(t *testing.T) {
	c := newClinicContext("/?clinic_id=sede_sur")
	if cid := extractClinicID(c, "default"); cid != "sede_sur" {
		t.Errorf("expected sede_sur, got %s", cid)
	}
}

func TestExtractClinicID_Default(t *testing.T) {
	c := newClinicContext("/")
	if cid := extractClinicID(c, "default"); cid != "default" {
		t.Errorf("expected default, got %s", cid)
	}
}

func TestExtractClinicID_Priority(t *testing.T) {
	c := newClinicContext("/?clinic_id=query")
	c.Request().Header.Set("X-Clinic-ID", "header")
	c.Set("jwt_clinic_id", "jwt")

	if cid := extractClinicID(c, "default"); cid != "jwt" {
		t.Errorf("expected jwt (highest priority), got %s", cid)
	}

	c.Set("jwt_clinic_id", "")
	if cid := extractClinicID(c, "default"); cid != "header" {
		t.Errorf("expected header when claim is empty, got %s", cid)
	}
}

func TestSchemaFor(t *testing.T) {
	tests := []struct {
		input string
		valid bool
	}{
		{"abc", true},
		{"sede_1", true},
		{"A1B2C3", true},
		{"a-b", false},
		{"a.b", false},
		{"a b", false},
		{"", false},
		{"'; DROP TABLE", false},
	}
	for _, tt := range tests {
		schema, err := SchemaFor(tt.input)
		if (err == nil) != tt.valid {
			t.Errorf("SchemaFor(%q) error = %v, want valid=%v", tt.input, err, tt.valid)
		}
		if tt.valid && schema != "clinic_"+tt.input {
			t.Errorf("SchemaFor(%q) = %q", tt.input, schema)
		}
	}
}

func TestCreateClinicSchema_InvalidID(t *testing.T) {
	for _, id := range []string{"with-dash", "with.dot", "drop;table"} {
		if err := CreateClinicSchema(context.Background(), nil, id, ""); err == nil {
			t.Errorf("expected error for invalid clinic ID %q", id)
		}
	}
}

func TestContextAccessors_Empty(t *testing.T) {
	ctx := context.Background()
	if ConnFromContext(ctx) != nil {
		t.Error("expected nil conn from empty context")
	}
	if TxFromContext(ctx) != nil {
		t.Error("expected nil tx from empty context")
	}
	if ClinicFromContext(ctx) != "" {
		t.Error("expected empty clinic from empty context")
	}
}

func TestContextAccessors_WrongType(t *testing.T) {
	ctx := context.WithValue(context.Background(), DBConnKey, "not-a-conn")
	ctx = context.WithValue(ctx, DBTxKey, "not-a-tx")
	ctx = context.WithValue(ctx, ClinicIDKey, 12345)
	if ConnFromContext(ctx) != nil {
		t.Error("expected nil conn for wrong type")
	}
	if TxFromContext(ctx) != nil {
		t.Error("expected nil tx for wrong type")
	}
	if ClinicFromContext(ctx) != "" {
		t.Error("expected empty clinic for wrong type")
	}
}

func TestWithTx_NoConnection(t *testing.T) {
	_, _, err := WithTx(context.Background())
	if err == nil {
		t.Fatal("expected error when no connection in context")
	}
	if err.Error() != "no database connection in context" {
		t.Errorf("unexpected error message: %s", err.Error())
	}
}

func TestRunInTx_NoConnection(t *testing.T) {
	called := false
	err := RunInTx(context.Background(), nil, func(ctx context.Context) error {
		called = true
		return nil
	})
	if err == nil {
		t.Fatal("expected error without pool or connection")
	}
	if called {
		t.Error("expected fn not to run")
	}
}
