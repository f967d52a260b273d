//go:build linux

package automation

import (
	"testing"
)

func TestOnCalendar(t *testing.T) {
	t.Parallel()
	tests := []struct {
		days    []int
		hhmm    string
		want    string
		wantErr bool
	}{
		{days: []int{1, 3, 5}, hhmm: "07:30", want: "Mon,Wed,Fri *-*-* 07:30:00"},
		{days: []int{5, 1, 3}, hhmm: "07:30", want: "Mon,Wed,Fri *-*-* 07:30:00"},
		{days: []int{0}, hhmm: "23:59", want: "Sun *-*-* 23:59:00"},
		{days: []int{0, 1, 2, 3, 4, 5, 6}, hhmm: "00:00", want: "Sun,Mon,Tue,Wed,Thu,Fri,Sat *-*-* 00:00:00"},
		{days: nil, hhmm: "07:30", wantErr: true},
		{days: []int{7}, hhmm: "07:30", wantErr: true},
		{days: []int{1}, hhmm: "0730", wantErr: true},
	}
	for _, tt := range tests {
		got, err := onCalendar(tt.days, tt.hhmm)
		if tt.wantErr {
			if err == nil {
				t.Fatalf("onCalendar(%v, %q): expected error", tt.days, tt.hhmm)
			}
			continue
		}
		if err != nil {
			t.Fatalf("onCalendar(%v, %q): %v", tt.days, tt.hhmm, err)
		}
		if got != tt.want {
			t.Fatalf("onCalendar(%v, %q) = %q, want %q", tt.days, tt.hhmm, got, tt.want)
		}
	}
}

func TestUnitBaseSanitizes(t *testing.T) {
	t.Parallel()
	tests := []struct{ id, want string }{
		{"3f2a", "chime-3f2a"},
		{"a b/c", "chime-a-b-c"},
		{"A_B.C-1", "chime-A_B.C-1"},
	}
	for _, tt := range tests {
		if got := unitBase(tt.id); got != tt.want {
			t.Fatalf("unitBase(%q) = %q, want %q", tt.id, got, tt.want)
		}
	}
}

func TestPlayerArgv(t *testing.T) {
	t.Parallel()
	// Absolute binary so the result is independent of PATH.
	args, err := playerArgv("/bin/echo -n {file}", "/srv/clips/bell.wav")
	if err != nil {
		t.Fatalf("playerArgv: %v", err)
	}
	want := []string{"/bin/echo", "-n", "/srv/clips/bell.wav"}
	if len(args) != len(want) {
		t.Fatalf("argv = %v, want %v", args, want)
	}
	for i := range want {
		if args[i] != want[i] {
			t.Fatalf("argv = %v, want %v", args, want)
		}
	}

	// Without a {file} placeholder the path is appended.
	args, err = playerArgv("/bin/echo", "/srv/clips/bell.wav")
	if err != nil {
		t.Fatalf("playerArgv: %v", err)
	}
	if args[len(args)-1] != "/srv/clips/bell.wav" {
		t.Fatalf("file path not appended: %v", args)
	}

	if _, err := playerArgv("", "/srv/clips/bell.wav"); err == nil {
		t.Fatalf("empty command must error")
	}
	if _, err := playerArgv("definitely-not-a-real-binary-xyz {file}", "/x"); err == nil {
		t.Fatalf("unresolvable binary must error")
	}
}
