package natsserver

import (
	"context"
	"testing"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

func TestTokenAuth(t *testing.T) {
	token := "test-secret-token"

	srv, err := New(Config{
		StoreDir: t.TempDir(),
		Host:     "127.0.0.1",
		Port:     -1,
		Token:    token,
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("start server: %v", err)
	}
	defer srv.Shutdown()

	url := srv.ClientURL()

	if nc, err := nats.Connect(url); err == nil {
		nc.Close()
		t.Fatal("expected connection without token to fail")
	}
	if nc, err := nats.Connect(url, nats.Token("wrong-token")); err == nil {
		nc.Close()
		t.Fatal("expected connection with wrong token to fail")
	}

	ext, err := Connect(url, token, zerolog.Nop())
	if err != nil {
		t.Fatalf("Connect with token: %v", err)
	}
	defer ext.Shutdown()
	if ext.Embedded() {
		t.Error("external connection reported as embedded")
	}
}

func TestInProcessOnly(t *testing.T) {
	srv, err := New(Config{StoreDir: t.TempDir()}, zerolog.Nop())
	if err != nil {
		t.Fatalf("start server: %v", err)
	}
	defer srv.Shutdown()

	if !srv.Embedded() {
		t.Fatal("expected embedded server")
	}
	nc, err := nats.Connect(srv.ClientURL(), srv.ConnectOptions()...)
	if err != nil {
		t.Fatalf("in-process connect: %v", err)
	}
	nc.Close()
}

func TestJetStreamKeyValue(t *testing.T) {
	srv, err := New(Config{StoreDir: t.TempDir()}, zerolog.Nop())
	if err != nil {
		t.Fatalf("start server: %v", err)
	}
	defer srv.Shutdown()

	ctx := context.Background()
	kv, err := srv.JetStream().CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{Bucket: "health"})
	if err != nil {
		t.Fatalf("create bucket: %v", err)
	}
	if _, err := kv.Put(ctx, "k", []byte("v")); err != nil {
		t.Fatalf("put: %v", err)
	}
	entry, err := kv.Get(ctx, "k")
	if err != nil || string(entry.Value()) != "v" {
		t.Fatalf("get = %v, %v", entry, err)
	}
}
