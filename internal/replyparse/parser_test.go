// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package replyparse

import "testing"

func TestParser_ForSMS(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantOK  bool
		wantID  string
		wantMsg string
		wantLst bool
	}{
		{"explicit colon", "REPLY:abc123 hello there", true, "abc123", "hello there", false},
		{"explicit no colon", "REPLY abc123 hello", true, "abc123", "hello", false},
		{"short prefix", "R:chat_9-x Bonjour!", true, "chat_9-x", "Bonjour!", false},
		{"rep prefix lowercase", "rep:abc hi", true, "abc", "hi", false},
		{"trims message", "  REPLY:abc123    hello   \n", true, "abc123", "hello", false},
		{"multiline message", "REPLY:abc123 line one\nline two", true, "abc123", "line one\nline two", false},
		{"last", "LAST on arrive demain", true, "", "on arrive demain", true},
		{"bare token", "chat_1700000000_abc merci", true, "chat_1700000000_abc", "merci", false},
		{"bare token colon", "abcdefgh: merci", true, "abcdefgh", "merci", false},
		{"bare token too short", "abcdefg merci", false, "", "", false},
		{"explicit without message", "REPLY:abc123", false, "", "", false},
		{"explicit whitespace message", "REPLY:abc123    ", false, "", "", false},
		{"last without message", "LAST", false, "", "", false},
		{"empty", "   ", false, "", "", false},
		{"plain text", "hi", false, "", "", false},
	}

	p := ForSMS()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, ok := p.Parse(tt.body)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v (res=%+v)", ok, tt.wantOK, res)
			}
			if !ok {
				return
			}
			if res.SessionID != tt.wantID {
				t.Errorf("SessionID = %q, want %q", res.SessionID, tt.wantID)
			}
			if res.Message != tt.wantMsg {
				t.Errorf("Message = %q, want %q", res.Message, tt.wantMsg)
			}
			if res.Last != tt.wantLst {
				t.Errorf("Last = %v, want %v", res.Last, tt.wantLst)
			}
		})
	}
}

func TestParser_ForEmailRejectsBareToken(t *testing.T) {
	if res, ok := ForEmail().Parse("abcdefghij thanks for writing"); ok {
		t.Errorf("expected no match, got %+v", res)
	}
}

func TestParser_OrderFirstMatchWins(t *testing.T) {
	// "REPLY:LAST x" is explicit with session id "LAST", not a LAST request.
	res, ok := ForSMS().Parse("REPLY:LAST x")
	if !ok {
		t.Fatal("expected a match")
	}
	if res.Last || res.SessionID != "LAST" {
		t.Errorf("res = %+v, want explicit session LAST", res)
	}
}
