//go:build integration

package decision

import (
	"context"
	"testing"
	"time"

	"github.com/quipu/debitcheck/internal/features"
	"github.com/quipu/debitcheck/internal/testutil"
)

func TestPostgresDecisions_RecordAndList(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()

	vec := features.NewVector([]string{"message_count", "score_riesgo"})
	vec.Set("message_count", 42)
	vec.Set("score_riesgo", 3.5)

	base := time.Now().UTC().Truncate(time.Second)
	for i, p := range []float64{0.12, 0.74} {
		rec := &Record{
			ID:               "dec_pg_" + string(rune('a'+i)),
			CreditUID:        "cr_pg_dec",
			UserID:           "user_pg_dec",
			DeviceCount:      1,
			SmsCount:         42,
			FraudProbability: p,
			Decision:         Decide(p, 0.509),
			Threshold:        0.509,
			ModelVersion:     "v-pg-1",
			FeaturesUsed:     vec,
			EvaluatedAt:      base.Add(time.Duration(i) * time.Minute),
		}
		if err := store.Record(ctx, rec); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	records, err := store.ListByCredit(ctx, "cr_pg_dec", 10)
	if err != nil {
		t.Fatalf("ListByCredit: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("records = %d, want 2", len(records))
	}

	// Newest first
	if records[0].FraudProbability != 0.74 {
		t.Errorf("first record probability = %v, want 0.74", records[0].FraudProbability)
	}
	if records[0].Decision != Rechazado {
		t.Errorf("first record decision = %s, want rechazado", records[0].Decision)
	}
	if records[1].Decision != Aprobado {
		t.Errorf("second record decision = %s, want aprobado", records[1].Decision)
	}

	// Feature vector survives the JSON round trip with key order intact
	got := records[0].FeaturesUsed
	if got == nil {
		t.Fatal("features_used not restored")
	}
	keys := got.Keys()
	if len(keys) != 2 || keys[0] != "message_count" || keys[1] != "score_riesgo" {
		t.Errorf("restored keys = %v", keys)
	}
	if v, _ := got.Get("score_riesgo"); v != 3.5 {
		t.Errorf("score_riesgo = %v, want 3.5", v)
	}

	// Limit applies
	limited, err := store.ListByCredit(ctx, "cr_pg_dec", 1)
	if err != nil {
		t.Fatalf("ListByCredit limit: %v", err)
	}
	if len(limited) != 1 {
		t.Errorf("limited = %d, want 1", len(limited))
	}
}

func TestPostgresDecisions_CorruptFeatures(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	ctx := context.Background()
	_, err := db.ExecContext(ctx, `
		INSERT INTO decisions (
			id, credit_uid, user_id, fraud_probability, decision,
			threshold, model_version, features_used
		)
		VALUES ('dec_pg_bad', 'cr_pg_bad', 'user_pg_bad', 0.5, 'aprobado',
		        0.509, 'v-pg-1', '"not an object"')
	`)
	if err != nil {
		t.Fatalf("seed corrupt decision: %v", err)
	}

	store := NewPostgresStore(db)
	if _, err := store.ListByCredit(ctx, "cr_pg_bad", 10); err == nil {
		t.Error("expected error reading a decision with a corrupt feature payload")
	}
}

func TestPostgresDecisions_Empty(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	records, err := store.ListByCredit(context.Background(), "cr_pg_none", 10)
	if err != nil {
		t.Fatalf("ListByCredit: %v", err)
	}
	if len(records) != 0 {
		t.Errorf("records = %d, want 0", len(records))
	}
}
