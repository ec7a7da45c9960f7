package proxy

import (
	"testing"

	"github.com/rs/zerolog"
)

func TestNewPoolSkipsMalformedEntries(t *testing.T) {
	p := NewPool([]string{
		"1.2.3.4:1080:user:pass",
		"not-a-proxy",
		"1.2.3.4:abc:user:pass",
		"host:1080",
		"5.6.7.8:1081:user2:pass2",
	}, zerolog.Nop())

	if p.Size() != 2 {
		t.Fatalf("expected 2 valid entries, got %d", p.Size())
	}
}

func TestPoolEmptyNext(t *testing.T) {
	p := NewPool(nil, zerolog.Nop())

	if _, ok := p.Next(); ok {
		t.Fatal("empty pool must not return an entry")
	}
}

func TestPoolRotation(t *testing.T) {
	p := NewPool([]string{
		"1.1.1.1:1080:u:p",
		"2.2.2.2:1080:u:p",
	}, zerolog.Nop())

	first, ok := p.Next()
	if !ok {
		t.Fatal("expected an entry")
	}
	second, ok := p.Next()
	if !ok {
		t.Fatal("expected an entry")
	}
	if first.Addr() == second.Addr() {
		t.Fatalf("rotation must alternate, got %s twice", first.Addr())
	}

	third, _ := p.Next()
	if third.Addr() != first.Addr() {
		t.Fatalf("rotation must wrap, expected %s, got %s", first.Addr(), third.Addr())
	}
}

func TestPoolSkipsFailed(t *testing.T) {
	p := NewPool([]string{
		"1.1.1.1:1080:u:p",
		"2.2.2.2:1080:u:p",
	}, zerolog.Nop())

	bad, _ := p.Next()
	p.MarkFailed(bad)

	for i := 0; i < 4; i++ {
		entry, ok := p.Next()
		if !ok {
			t.Fatal("expected an entry")
		}
		if entry.Addr() == bad.Addr() {
			t.Fatalf("rotation must skip failed proxy %s", bad.Addr())
		}
	}
}

func TestPoolResetsWhenAllFailed(t *testing.T) {
	p := NewPool([]string{
		"1.1.1.1:1080:u:p",
		"2.2.2.2:1080:u:p",
	}, zerolog.Nop())

	a, _ := p.Next()
	b, _ := p.Next()
	p.MarkFailed(a)
	p.MarkFailed(b)

	entry, ok := p.Next()
	if !ok {
		t.Fatal("pool must reset and serve again when every proxy failed")
	}
	if entry.Addr() != a.Addr() && entry.Addr() != b.Addr() {
		t.Fatalf("unexpected entry %s", entry.Addr())
	}

	stats := p.Stats()
	if stats.Failed != 0 {
		t.Fatalf("failed set must be reset, got %d", stats.Failed)
	}
}

func TestPoolStats(t *testing.T) {
	p := NewPool([]string{
		"1.1.1.1:1080:u:p",
		"2.2.2.2:1080:u:p",
		"3.3.3.3:1080:u:p",
	}, zerolog.Nop())

	entry, _ := p.Next()
	p.MarkFailed(entry)

	stats := p.Stats()
	if stats.Total != 3 || stats.Working != 2 || stats.Failed != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestParseEntry(t *testing.T) {
	entry, err := parseEntry(" 1.2.3.4 : 1080 : user : pass ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if entry.Host != "1.2.3.4" || entry.Port != 1080 || entry.Username != "user" || entry.Password != "pass" {
		t.Fatalf("unexpected entry: %+v", entry)
	}
	if entry.Addr() != "1.2.3.4:1080" {
		t.Fatalf("unexpected addr: %s", entry.Addr())
	}
}

func TestDialerWithAuth(t *testing.T) {
	p := NewPool([]string{"1.2.3.4:1080:user:pass"}, zerolog.Nop())

	entry, _ := p.Next()
	dial, err := p.Dialer(entry)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if dial == nil {
		t.Fatal("expected a dial function")
	}
}
