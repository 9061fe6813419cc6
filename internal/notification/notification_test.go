package notification

import "testing"

func TestDetectOSC9(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		want    []Notification
	}{
		{
			name: "BEL terminator",
			data: "\x1b]9;Session finished\x07",
			want: []Notification{{Type: TypeOSC9, Message: "Session finished"}},
		},
		{
			name: "ST terminator",
			data: "\x1b]9;Waiting for input\x1b\\",
			want: []Notification{{Type: TypeOSC9, Message: "Waiting for input"}},
		},
		{
			name: "escape-sequence-like payload filtered",
			data: "\x1b]9;4;0;\x07",
			want: nil,
		},
		{
			name: "standalone BEL ignored",
			data: "running tests\x07done",
			want: nil,
		},
		{
			name: "plain output has no notifications",
			data: "compiling internal/vt...\nlinking opman\n",
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Detect([]byte(tt.data))
			if len(got) != len(tt.want) {
				t.Fatalf("Detect(%q) = %d notifications, want %d", tt.data, len(got), len(tt.want))
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("notification[%d] = %+v, want %+v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestDetectOSC777(t *testing.T) {
	tests := []struct {
		name      string
		data      string
		wantTitle string
		wantBody  string
		wantNone  bool
	}{
		{
			name:      "title and body",
			data:      "\x1b]777;notify;Assistant idle;awaiting your next prompt\x07",
			wantTitle: "Assistant idle",
			wantBody:  "awaiting your next prompt",
		},
		{
			name:      "title only",
			data:      "\x1b]777;notify;Build finished\x07",
			wantTitle: "Build finished",
		},
		{
			name:     "empty notify filtered",
			data:     "\x1b]777;notify;\x07",
			wantNone: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Detect([]byte(tt.data))
			if tt.wantNone {
				if len(got) != 0 {
					t.Fatalf("Detect(%q) = %d notifications, want 0", tt.data, len(got))
				}
				return
			}
			if len(got) != 1 {
				t.Fatalf("Detect(%q) = %d notifications, want 1", tt.data, len(got))
			}
			if got[0].Type != TypeOSC777 {
				t.Errorf("Type = %q, want %q", got[0].Type, TypeOSC777)
			}
			if got[0].Title != tt.wantTitle {
				t.Errorf("Title = %q, want %q", got[0].Title, tt.wantTitle)
			}
			if got[0].Body != tt.wantBody {
				t.Errorf("Body = %q, want %q", got[0].Body, tt.wantBody)
			}
		})
	}
}

// TestMixedStreamFromAssistantPTY mirrors what the event loop's
// scanNotifications feeds Detect in practice (the raw bytes a PTY's
// readerLoop buffered): interleaved shell output and OSC notifications
// from a long-running assistant session.
func TestMixedStreamFromAssistantPTY(t *testing.T) {
	data := "\x1b]9;Starting task\x07Running go vet...\n" +
		"\x1b]777;notify;Task complete;3 files changed\x07"
	got := Detect([]byte(data))

	if len(got) != 2 {
		t.Fatalf("Detect() = %d notifications, want 2", len(got))
	}
	if got[0].Type != TypeOSC9 || got[0].Message != "Starting task" {
		t.Errorf("notification[0] = %+v, want OSC9 'Starting task'", got[0])
	}
	if got[1].Type != TypeOSC777 || got[1].Title != "Task complete" || got[1].Body != "3 files changed" {
		t.Errorf("notification[1] = %+v, want OSC777 'Task complete'/'3 files changed'", got[1])
	}
}

func TestIsEscapeSequence(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"4;0;", true},
		{"123", true},
		{";", true},
		{"", false},
		{"assistant idle", false},
		{"4;0;partial text", false},
	}

	for _, tt := range tests {
		if got := isEscapeSequence(tt.input); got != tt.want {
			t.Errorf("isEscapeSequence(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestAgentStatusStrings(t *testing.T) {
	tests := map[AgentStatus]string{
		StatusInitializing: "initializing",
		StatusRunning:       "running",
		StatusFinished:      "finished",
		StatusFailed:        "failed",
		StatusKilled:        "killed",
	}
	for status, want := range tests {
		if string(status) != want {
			t.Errorf("AgentStatus = %q, want %q", status, want)
		}
	}
}
