package protocol

import "testing"

func TestDecodeFields(t *testing.T) {
	tests := []struct {
		name    string
		fields  map[string]any
		want    inboundWire
		wantErr bool
	}{
		{
			name:   "numbers arrive as float64",
			fields: map[string]any{"type": RoomCountUpdateType, "count": float64(5), "chatRoomId": float64(9)},
			want:   inboundWire{Type: RoomCountUpdateType, Count: 5, ChatRoomID: 9},
		},
		{
			name:   "chat fields",
			fields: map[string]any{"meetingType": "TALK", "username": "amy", "message": "yo", "clientIp": "1.2.3.4"},
			want:   inboundWire{MeetingType: "TALK", Username: "amy", Message: "yo", ClientIP: "1.2.3.4"},
		},
		{
			name:   "null values are ignored",
			fields: map[string]any{"meetingType": "JOIN", "username": "amy", "message": nil},
			want:   inboundWire{MeetingType: "JOIN", Username: "amy"},
		},
		{
			name:    "count that is not a number",
			fields:  map[string]any{"type": RoomCountUpdateType, "count": "many"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got inboundWire
			err := decodeFields(tt.fields, &got)
			if (err != nil) != tt.wantErr {
				t.Fatalf("decodeFields() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("decodeFields() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestDecodeStructured_RejectsNonObjects(t *testing.T) {
	for _, payload := range []string{"", "   ", "42", `"text"`, "null", "[]"} {
		if f, ok := decodeStructured([]byte(payload)); ok {
			t.Errorf("decodeStructured(%q) = %#v, want no frame", payload, f)
		}
	}
}

func TestCodec_hasMarker(t *testing.T) {
	c := NewCodec(WithMarkers("", "kick"))

	if c.hasMarker("hello") {
		t.Error("empty marker must not match every text")
	}
	if !c.hasMarker("you got kicked") {
		t.Error("expected marker match")
	}
}
