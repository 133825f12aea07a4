package wadomain

import "testing"

func TestNormalizeChatID(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"plain digits", "5215512345678", "5215512345678@c.us"},
		{"already suffixed", "5215512345678@c.us", "5215512345678@c.us"},
		{"group jid passthrough", "120363012345@g.us", "120363012345@g.us"},
		{"digits with punctuation", "+52 155 1234 5678", "5215512345678@c.us"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := NormalizeChatID(tc.in)
			if got != tc.want {
				t.Fatalf("NormalizeChatID(%q) = %q, want %q", tc.in, got, tc.want)
			}
			if again := NormalizeChatID(got); again != got {
				t.Fatalf("NormalizeChatID not idempotent: %q -> %q", got, again)
			}
		})
	}
}

func TestNormalizeTimestampMs(t *testing.T) {
	cases := []struct {
		name string
		in   int64
		want int64
	}{
		{"seconds", 1_700_000_000, 1_700_000_000_000},
		{"already milliseconds", 1_700_000_000_000, 1_700_000_000_000},
		{"zero passthrough", 0, 0},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := NormalizeTimestampMs(tc.in); got != tc.want {
				t.Fatalf("NormalizeTimestampMs(%d) = %d, want %d", tc.in, got, tc.want)
			}
		})
	}
}

func TestIsVoiceMessage(t *testing.T) {
	cases := []struct {
		name        string
		messageType string
		hasMedia    bool
		want        bool
	}{
		{"ptt with media", "ptt", true, true},
		{"audio with media", "AUDIO", true, true},
		{"chat type never voice", "chat", true, false},
		{"ptt without media flag", "ptt", false, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsVoiceMessage(tc.messageType, tc.hasMedia); got != tc.want {
				t.Fatalf("IsVoiceMessage(%q, %v) = %v, want %v", tc.messageType, tc.hasMedia, got, tc.want)
			}
		})
	}
}
