package capture

import "testing"

func TestAnnotate_Topic(t *testing.T) {
	cases := []struct {
		text string
		want string
	}{
		{"How much does the premium plan cost?", "pricing"},
		{"Can I book an appointment for Tuesday", "scheduling"},
		{"Something is broken and not working", "support"},
		{"Does your api support webhook integration", "integration"},
		{"Nice weather today", "general"},
	}
	for _, tc := range cases {
		if got := Annotate(tc.text).Topic; got != tc.want {
			t.Fatalf("Annotate(%q).Topic = %q, want %q", tc.text, got, tc.want)
		}
	}
}

func TestAnnotate_FollowUp(t *testing.T) {
	if !Annotate("What are your opening hours?").NeedsFollowUp {
		t.Fatalf("question mark must flag follow-up")
	}
	if !Annotate("Please email me the details").NeedsFollowUp {
		t.Fatalf("follow-up phrase not detected")
	}
	if Annotate("Thanks, that was everything I needed.").NeedsFollowUp {
		t.Fatalf("false positive follow-up")
	}
}

func TestAnnotate_Engagement(t *testing.T) {
	if got := Annotate("ok").Engagement; got != EngagementLow {
		t.Fatalf("short text engagement = %q", got)
	}
	if got := Annotate("Could you tell me more about the product").Engagement; got != EngagementMedium {
		t.Fatalf("medium text engagement = %q", got)
	}
	long := "Well, we have been evaluating several vendors this quarter, and honestly, " +
		"your voice assistant demo is the most responsive one we have tried so far!"
	if got := Annotate(long).Engagement; got != EngagementHigh {
		t.Fatalf("long text engagement = %q", got)
	}
	if got := Annotate("").Engagement; got != EngagementLow {
		t.Fatalf("empty text engagement = %q", got)
	}
}
