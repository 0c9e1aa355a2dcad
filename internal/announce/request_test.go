package announce

import (
	"errors"
	"reflect"
	"testing"
)

func TestValidateEmptyMessage(t *testing.T) {
	for _, msg := range []string{"", "   ", "\n\t"} {
		err := Request{Message: msg}.Validate()
		if !errors.Is(err, ErrInvalidRequest) {
			t.Errorf("Validate(%q) = %v, want ErrInvalidRequest", msg, err)
		}
	}
	if err := (Request{Message: "hi"}).Validate(); err != nil {
		t.Errorf("valid request rejected: %v", err)
	}
}

func TestTargetPersons(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"", nil},
		{"   ", nil},
		{"John", []string{"John"}},
		{"John, Alice", []string{"John", "Alice"}},
		{" John ,  Alice ", []string{"John", "Alice"}},
		{"John, john, JOHN", []string{"John"}},
		{"John,,Alice,", []string{"John", "Alice"}},
	}
	for _, tc := range tests {
		got := Request{TargetPerson: tc.in}.TargetPersons()
		if !reflect.DeepEqual(got, tc.want) {
			t.Errorf("TargetPersons(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestOverride(t *testing.T) {
	on, off := true, false
	if override(nil, true) != true || override(nil, false) != false {
		t.Error("nil override must fall back")
	}
	if override(&off, true) != false || override(&on, false) != true {
		t.Error("explicit override must win")
	}
}
