package extract

import "testing"

func TestPhoneNumber(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
		ok   bool
	}{
		{
			name: "spoken digit words",
			text: "my number is nine six eight, six four five, six zero nine zero",
			want: "9686456090",
			ok:   true,
		},
		{
			name: "dashed number",
			text: "call 555-123-4567 please",
			want: "5551234567",
			ok:   true,
		},
		{
			name: "country code prefix",
			text: "it's +1 555 123 4567",
			want: "5551234567",
			ok:   true,
		},
		{
			name: "parenthesized area code",
			text: "reach me at (555) 123-4567 anytime",
			want: "5551234567",
			ok:   true,
		},
		{
			name: "mixed words and numerals",
			text: "five five five 123 four five six seven",
			want: "5551234567",
			ok:   true,
		},
		{
			name: "oh as zero",
			text: "five five five one two three four five six oh",
			want: "5551234560",
			ok:   true,
		},
		{
			name: "too few digits",
			text: "my pin is 1234",
			ok:   false,
		},
		{
			name: "digits broken by words",
			text: "55512 and then 34567",
			ok:   false,
		},
		{
			name: "no digits at all",
			text: "I would like to book an appointment",
			ok:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := PhoneNumber(tt.text)
			if ok != tt.ok {
				t.Fatalf("PhoneNumber(%q) ok = %v, want %v", tt.text, ok, tt.ok)
			}
			if ok && got != tt.want {
				t.Errorf("PhoneNumber(%q) = %q, want %q", tt.text, got, tt.want)
			}
		})
	}
}

func TestName(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
		ok   bool
	}{
		{
			name: "this is",
			text: "Hi, this is John, I need an appointment",
			want: "John",
			ok:   true,
		},
		{
			name: "my name is",
			text: "hello my name is sarah and I want to reschedule",
			want: "Sarah",
			ok:   true,
		},
		{
			name: "im contraction",
			text: "Hey, I'm Mike",
			want: "Mike",
			ok:   true,
		},
		{
			name: "call me",
			text: "you can call me Dave",
			want: "Dave",
			ok:   true,
		},
		{
			name: "names contraction",
			text: "name's Priya by the way",
			want: "Priya",
			ok:   true,
		},
		{
			name: "false positive calling",
			text: "I'm calling about a refund",
			ok:   false,
		},
		{
			name: "false positive looking",
			text: "I'm looking for an opening on Friday",
			ok:   false,
		},
		{
			name: "false positive this is the",
			text: "this is the third time I've called",
			ok:   false,
		},
		{
			name: "no introduction",
			text: "do you have anything on Tuesday",
			ok:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Name(tt.text)
			if ok != tt.ok {
				t.Fatalf("Name(%q) ok = %v, want %v", tt.text, ok, tt.ok)
			}
			if ok && got != tt.want {
				t.Errorf("Name(%q) = %q, want %q", tt.text, got, tt.want)
			}
		})
	}
}
