package observation

import "testing"

func TestNormalizeMessageFlagsEmptyContent(t *testing.T) {
	obs := New(TypeMessage, "dm:alice", Actor{ActorID: "alice", ActorType: ActorUser}, "text_input", SourceExternal, Payload{
		Message: &MessagePayload{Text: "   "},
	})
	obs.NormalizeMessage()

	if !obs.HasQualityFlag(QualityEmptyContent) {
		t.Fatalf("expected EMPTY_CONTENT flag, got flags=%v", obs.QualityFlags)
	}
}

func TestNormalizeMessageKeepsAttachmentsOnlyMessage(t *testing.T) {
	obs := New(TypeMessage, "dm:alice", Actor{ActorID: "alice", ActorType: ActorUser}, "text_input", SourceExternal, Payload{
		Message: &MessagePayload{Text: "", Attachments: []Attachment{{ID: "a1"}}},
	})
	obs.NormalizeMessage()

	if obs.HasQualityFlag(QualityEmptyContent) {
		t.Fatalf("did not expect EMPTY_CONTENT flag when attachments present")
	}
}

func TestIsAgentSourced(t *testing.T) {
	cases := []struct {
		name   string
		source string
		actor  string
		want   bool
	}{
		{"agent prefix", "agent:text", "someone", true},
		{"agent actor id", "text_input", AgentActorID, true},
		{"neither", "text_input", "alice", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			obs := New(TypeMessage, "dm:alice", Actor{ActorID: tc.actor, ActorType: ActorUser}, tc.source, SourceExternal, Payload{
				Message: &MessagePayload{Text: "hi"},
			})
			if got := obs.IsAgentSourced(); got != tc.want {
				t.Fatalf("IsAgentSourced() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestValidateRejectsEmptySource(t *testing.T) {
	obs := New(TypeMessage, "dm:alice", Actor{ActorID: "alice", ActorType: ActorUser}, "text_input", SourceExternal, Payload{
		Message: &MessagePayload{Text: "hi"},
	})
	obs.Source = ""
	if err := obs.Validate(); err == nil {
		t.Fatalf("expected error for empty source_name")
	}
}
