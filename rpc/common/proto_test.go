package common

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/ValentinKolb/idkv/lib/store"
)

func TestErrorCodeSurvivesMessage(t *testing.T) {
	resp := NewBackgroundFlushResponse(0, store.NewError(store.RetCFlushInProgress, "busy"))

	err := resp.ToError()
	var storeErr *store.Error
	if !errors.As(err, &storeErr) {
		t.Fatalf("expected a store error, got %v", err)
	}
	if storeErr.Code != store.RetCFlushInProgress || storeErr.Msg != "busy" {
		t.Errorf("unexpected error: %+v", storeErr)
	}

	if err := NewSetResponse(errors.New("plain")).ToError(); err == nil || errors.As(err, &storeErr) {
		t.Errorf("plain error converted to %v", err)
	}
	if err := NewSetResponse(nil).ToError(); err != nil {
		t.Errorf("successful response carries %v", err)
	}
	if err := NewErrorResponse("shard not found").ToError(); err == nil {
		t.Error("error response without error")
	}
}

func TestMessageTypeJSON(t *testing.T) {
	for msgType := MsgTSuccess; msgType <= MaxMessageType; msgType++ {
		data, err := json.Marshal(msgType)
		if err != nil {
			t.Fatalf("marshal %d: %v", msgType, err)
		}
		var got MessageType
		if err := json.Unmarshal(data, &got); err != nil || got != msgType {
			t.Errorf("round trip of %s = %v, %v", msgType, got, err)
		}
	}

	var got MessageType
	if err := json.Unmarshal([]byte(`"acquire"`), &got); err == nil {
		t.Error("expected an error for an unknown message type")
	}
}

func TestInfoResponse(t *testing.T) {
	info := store.Info{}
	info.Tier.Dirty = 7

	resp := NewInfoResponse(info, nil)
	var decoded store.Info
	if err := json.Unmarshal(resp.Meta, &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded.Tier.Dirty != 7 {
		t.Errorf("dirty = %d, want 7", decoded.Tier.Dirty)
	}
}

func TestTierConfig(t *testing.T) {
	c := ServerConfig{Databases: 4, DiskEnabled: true, MaxPageCount: 10, ReconcilePolicy: "legacy"}
	cfg, err := c.TierConfig()
	if err != nil {
		t.Fatal(err)
	}
	if !cfg.Enabled || cfg.Databases != 4 || cfg.MaxPageCount != 10 || cfg.Reconcile.String() != "legacy" {
		t.Errorf("unexpected tier config: %+v", cfg)
	}

	c.ReconcilePolicy = "oldest"
	if _, err := c.TierConfig(); err == nil {
		t.Error("expected an error for an unknown reconcile policy")
	}
}
