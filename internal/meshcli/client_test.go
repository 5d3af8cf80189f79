package meshcli

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

type fakeRunner struct {
	out   string
	err   error
	lines []string
	block bool

	name string
	args []string
}

func (f *fakeRunner) Output(ctx context.Context, name string, args ...string) (string, error) {
	f.name = name
	f.args = args
	if f.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return f.out, f.err
}

func (f *fakeRunner) Stream(ctx context.Context, fn func(string), name string, args ...string) error {
	f.name = name
	f.args = args
	for _, l := range f.lines {
		fn(l)
	}
	return f.err
}

func TestNodes_BuildsArgs(t *testing.T) {
	t.Parallel()

	r := &fakeRunner{out: "!a1\n  SNR: 1dB"}
	c := NewClient(r, WithPort("/dev/ttyACM0"))
	out, err := c.Nodes(context.Background())
	if err != nil {
		t.Fatalf("Nodes: %v", err)
	}
	if out != r.out {
		t.Fatalf("out=%q", out)
	}
	if r.name != "meshtastic" || strings.Join(r.args, " ") != "--port /dev/ttyACM0 --nodes --no-time" {
		t.Fatalf("cmd=%s %v", r.name, r.args)
	}
}

func TestNodes_AutoDetectOmitsPort(t *testing.T) {
	t.Parallel()

	r := &fakeRunner{out: "!a1"}
	if _, err := NewClient(r, WithCommand("/opt/bin/meshtastic")).Nodes(context.Background()); err != nil {
		t.Fatalf("Nodes: %v", err)
	}
	if r.name != "/opt/bin/meshtastic" || strings.Join(r.args, " ") != "--nodes --no-time" {
		t.Fatalf("cmd=%s %v", r.name, r.args)
	}
}

func TestNodes_FailuresWrapErrFetch(t *testing.T) {
	t.Parallel()

	cases := map[string]*fakeRunner{
		"exit":  {err: errors.New("exit status 1")},
		"empty": {out: "  \n"},
		"hang":  {block: true},
	}
	for name, r := range cases {
		c := NewClient(r, WithTimeout(20*time.Millisecond))
		_, err := c.Nodes(context.Background())
		if !errors.Is(err, ErrFetch) {
			t.Fatalf("%s: err=%v", name, err)
		}
	}
}

func TestListen_StreamsLines(t *testing.T) {
	t.Parallel()

	r := &fakeRunner{lines: []string{"a", "b"}}
	var got []string
	if err := NewClient(r).Listen(context.Background(), func(l string) { got = append(got, l) }); err != nil {
		t.Fatalf("Listen: %v", err)
	}
	if len(got) != 2 || strings.Join(r.args, " ") != "--listen" {
		t.Fatalf("got=%v args=%v", got, r.args)
	}
}
