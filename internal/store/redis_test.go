package store

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/google/go-cmp/cmp"
)

type testValue struct {
	Token string    `json:"token"`
	At    time.Time `json:"at"`
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return data
}

func TestRedisStore_Put(t *testing.T) {
	db, mock := redismock.NewClientMock()
	s := NewRedisStore[testValue](db, TokenPrefix)

	v := testValue{Token: "gho_xyz", At: time.Unix(1700000000, 0).UTC()}
	mock.ExpectSet("token:D1", mustJSON(t, v), 10*time.Minute).SetVal("OK")

	if err := s.Put(context.Background(), "D1", v, 10*time.Minute); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestRedisStore_Get(t *testing.T) {
	want := testValue{Token: "gho_xyz", At: time.Unix(1700000000, 0).UTC()}

	tests := []struct {
		name    string
		setup   func(redismock.ClientMock)
		wantOK  bool
		wantErr bool
	}{
		{
			name: "hit",
			setup: func(m redismock.ClientMock) {
				m.ExpectGet("token:D1").SetVal(string(mustJSON(t, want)))
			},
			wantOK: true,
		},
		{
			name: "miss",
			setup: func(m redismock.ClientMock) {
				m.ExpectGet("token:D1").RedisNil()
			},
		},
		{
			name: "backend error",
			setup: func(m redismock.ClientMock) {
				m.ExpectGet("token:D1").SetErr(errors.New("connection reset"))
			},
			wantErr: true,
		},
		{
			name: "corrupt value",
			setup: func(m redismock.ClientMock) {
				m.ExpectGet("token:D1").SetVal("{not json")
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock := redismock.NewClientMock()
			tt.setup(mock)
			s := NewRedisStore[testValue](db, TokenPrefix)

			got, ok, err := s.Get(context.Background(), "D1")
			if (err != nil) != tt.wantErr {
				t.Fatalf("Get() error = %v, wantErr %v", err, tt.wantErr)
			}
			if ok != tt.wantOK {
				t.Fatalf("Get() ok = %v, want %v", ok, tt.wantOK)
			}
			if tt.wantOK {
				if diff := cmp.Diff(want, got); diff != "" {
					t.Errorf("Get() mismatch (-want +got):\n%s", diff)
				}
			}
			if err := mock.ExpectationsWereMet(); err != nil {
				t.Error(err)
			}
		})
	}
}

func TestRedisStore_TakeIfPresent(t *testing.T) {
	db, mock := redismock.NewClientMock()
	s := NewRedisStore[testValue](db, TokenPrefix)
	want := testValue{Token: "gho_xyz"}

	mock.ExpectGetDel("token:D1").SetVal(string(mustJSON(t, want)))
	mock.ExpectGetDel("token:D1").RedisNil()

	got, ok, err := s.TakeIfPresent(context.Background(), "D1")
	if err != nil || !ok {
		t.Fatalf("first TakeIfPresent() = %v, %v", ok, err)
	}
	if got.Token != want.Token {
		t.Errorf("token = %q, want %q", got.Token, want.Token)
	}

	_, ok, err = s.TakeIfPresent(context.Background(), "D1")
	if err != nil {
		t.Fatalf("second TakeIfPresent() error = %v", err)
	}
	if ok {
		t.Error("second TakeIfPresent() should miss")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestRedisStore_RemoveAndHealth(t *testing.T) {
	db, mock := redismock.NewClientMock()
	s := NewRedisStore[testValue](db, SessionPrefix)

	mock.ExpectDel("session:abc").SetVal(0)
	mock.ExpectPing().SetVal("PONG")
	mock.ExpectPing().SetErr(errors.New("down"))

	if err := s.Remove(context.Background(), "abc"); err != nil {
		t.Errorf("Remove() error = %v", err)
	}
	if err := s.CheckHealth(context.Background()); err != nil {
		t.Errorf("CheckHealth() error = %v", err)
	}
	if err := s.CheckHealth(context.Background()); err == nil {
		t.Error("CheckHealth() expected error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}
