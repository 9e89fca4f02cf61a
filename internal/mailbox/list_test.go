package mailbox

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shineum/maildeck/internal/apperr"
)

func TestListFolder_OrderLimitAndFiltering(t *testing.T) {
	t.Parallel()

	st := newFaultyStore()
	for i := 0; i < 5; i++ {
		st.Seed(fmt.Sprintf("sent/m%d", i), rawMessage(fmt.Sprintf("msg %d", i), "body"), baseTime.Add(time.Duration(i)*time.Minute))
	}
	st.Seed("sent/", nil, baseTime.Add(time.Hour))
	st.Seed("sent/empty", nil, baseTime.Add(time.Hour))
	st.Seed("inbox-message", rawMessage("inbox", "body"), baseTime.Add(time.Hour))

	svc := New(st, &mockProvider{}, allow(), Config{ListLimit: 3})

	view, err := svc.ListFolder(context.Background(), Sent)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []string{"sent/m4", "sent/m3", "sent/m2"}
	if len(view.Emails) != len(want) {
		t.Fatalf("emails: got %d, want %d", len(view.Emails), len(want))
	}
	for i, id := range want {
		if view.Emails[i].ID != id {
			t.Errorf("emails[%d].ID: got %q, want %q", i, view.Emails[i].ID, id)
		}
	}
	for i := 1; i < len(view.Emails); i++ {
		if view.Emails[i].Date.After(view.Emails[i-1].Date) {
			t.Errorf("emails not sorted newest first at %d", i)
		}
	}
	if view.TotalCount != 3 {
		t.Errorf("TotalCount: got %d, want 3", view.TotalCount)
	}
	if view.Emails[0].Subject != "msg 4" {
		t.Errorf("Subject: got %q, want %q", view.Emails[0].Subject, "msg 4")
	}
}

func TestListFolder_TiesBreakOnKey(t *testing.T) {
	t.Parallel()

	st := newFaultyStore()
	st.Seed("trash/b", rawMessage("b", "x"), baseTime)
	st.Seed("trash/a", rawMessage("a", "x"), baseTime)
	st.Seed("trash/c", rawMessage("c", "x"), baseTime)

	svc := New(st, &mockProvider{}, allow(), Config{})
	view, err := svc.ListFolder(context.Background(), Trash)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for i, id := range []string{"trash/a", "trash/b", "trash/c"} {
		if view.Emails[i].ID != id {
			t.Errorf("emails[%d].ID: got %q, want %q", i, view.Emails[i].ID, id)
		}
	}
}

func TestListFolder_InboxExcludesSubfolders(t *testing.T) {
	t.Parallel()

	st := newFaultyStore()
	st.Seed("root-1", rawMessage("root", "x"), baseTime)
	st.Seed("sent/s1", rawMessage("sent", "x"), baseTime)
	st.Seed("trash/t1", rawMessage("trash", "x"), baseTime)
	st.Seed("other/o1", rawMessage("other", "x"), baseTime)

	svc := New(st, &mockProvider{}, allow(), Config{})
	view, err := svc.ListFolder(context.Background(), Inbox)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(view.Emails) != 1 || view.Emails[0].ID != "root-1" {
		t.Errorf("inbox: got %+v, want only root-1", view.Emails)
	}
}

func TestListFolder_PreservesOrderUnderConcurrency(t *testing.T) {
	t.Parallel()

	st := newFaultyStore()
	const n = 20
	for i := 0; i < n; i++ {
		st.Seed(fmt.Sprintf("k%02d", i), rawMessage(fmt.Sprintf("s%02d", i), "x"), baseTime.Add(time.Duration(i)*time.Second))
	}
	// Older messages return first so completion order is the reverse of
	// the sorted order.
	st.getDelay = func(key string) time.Duration {
		var i int
		fmt.Sscanf(key, "k%d", &i)
		return time.Duration(i) * time.Millisecond
	}

	svc := New(st, &mockProvider{}, allow(), Config{FetchConcurrency: n})
	view, err := svc.ListFolder(context.Background(), Inbox)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for i, e := range view.Emails {
		want := fmt.Sprintf("k%02d", n-1-i)
		if e.ID != want {
			t.Errorf("emails[%d].ID: got %q, want %q", i, e.ID, want)
		}
	}
}

func TestListFolder_IsolatesFailures(t *testing.T) {
	t.Parallel()

	st := newFaultyStore()
	st.Seed("good", rawMessage("good", "body"), baseTime)
	st.Seed("unreadable", rawMessage("unreadable", "body"), baseTime.Add(time.Minute))
	st.Seed("garbage", []byte("not a valid email at all\x00\x01\x02"), baseTime.Add(2*time.Minute))
	st.getErr = map[string]error{"unreadable": errInjected}

	svc := New(st, &mockProvider{}, allow(), Config{})
	view, err := svc.ListFolder(context.Background(), Inbox)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(view.Emails) != 3 {
		t.Fatalf("emails: got %d, want 3", len(view.Emails))
	}

	for _, e := range view.Emails[:2] {
		if e.Error == "" {
			t.Errorf("%s: expected placeholder with error", e.ID)
		}
		if e.Subject != UnavailableSubject {
			t.Errorf("%s: Subject got %q, want %q", e.ID, e.Subject, UnavailableSubject)
		}
	}
	if view.Emails[0].ID != "garbage" || view.Emails[1].ID != "unreadable" {
		t.Errorf("placeholders out of order: %q, %q", view.Emails[0].ID, view.Emails[1].ID)
	}
	if !view.Emails[1].Date.Equal(baseTime.Add(time.Minute)) {
		t.Errorf("placeholder date: got %v, want last-modified time", view.Emails[1].Date)
	}

	good := view.Emails[2]
	if good.Error != "" || good.Subject != "good" {
		t.Errorf("good entry: got %+v", good)
	}
}

func TestListFolder_ListingFailure(t *testing.T) {
	t.Parallel()

	st := newFaultyStore()
	st.listErr = errInjected

	svc := New(st, &mockProvider{}, allow(), Config{})
	_, err := svc.ListFolder(context.Background(), Sent)
	if !apperr.Is(err, apperr.Upstream) {
		t.Errorf("error: got %v, want upstream error", err)
	}
}

func TestListFolder_EmptyFolder(t *testing.T) {
	t.Parallel()

	svc := New(newFaultyStore(), &mockProvider{}, allow(), Config{})
	view, err := svc.ListFolder(context.Background(), Trash)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if view.Emails == nil || len(view.Emails) != 0 || view.TotalCount != 0 {
		t.Errorf("empty view: got %+v", view)
	}
}

func TestParseFolder(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		want    Folder
		prefix  string
		wantErr bool
	}{
		{"inbox", Inbox, "", false},
		{"Sent", Sent, "sent/", false},
		{" trash ", Trash, "trash/", false},
		{"drafts", "", "", true},
	}

	for _, tt := range tests {
		got, err := ParseFolder(tt.name)
		if tt.wantErr {
			if !apperr.Is(err, apperr.Validation) {
				t.Errorf("ParseFolder(%q): got %v, want validation error", tt.name, err)
			}
			continue
		}
		if err != nil || got != tt.want || got.Prefix() != tt.prefix {
			t.Errorf("ParseFolder(%q): got (%q, %v) prefix %q", tt.name, got, err, got.Prefix())
		}
	}
}
