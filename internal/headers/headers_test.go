package headers

import (
	"encoding/json"
	"reflect"
	"testing"
)

func TestInterpretFromFirstWins(t *testing.T) {
	h := Interpret(Lines(
		"X-Other: 1",
		"FROM: Site Name <site@good.com>",
		"From: second@good.com",
	))

	if h.FromEmail != "site@good.com" || h.FromName != "Site Name" {
		t.Fatalf("unexpected from: %q %q", h.FromEmail, h.FromName)
	}

	if _, ok := h.Get("from"); ok {
		t.Fatal("from should not pass through")
	}
}

func TestInterpretBareFrom(t *testing.T) {
	h := Interpret(String("From: bare@good.com"))
	if h.FromEmail != "bare@good.com" || h.FromName != "" {
		t.Fatalf("unexpected from: %q %q", h.FromEmail, h.FromName)
	}
}

func TestInterpretControlAndTransportHeaders(t *testing.T) {
	h := Interpret(String(
		"Content-Type: text/html; charset=UTF-8\r\n" +
			"MIME-Version: 1.0\r\n" +
			"content-transfer-encoding: quoted-printable\r\n" +
			"X-EmailIt-Source: FluentCRM\r\n" +
			"x-emailit-force-error: true\r\n" +
			"Reply-To: Support <help@good.com>\r\n" +
			"X-Campaign: spring\n" +
			"no colon here\n",
	))

	if h.Source != "FluentCRM" {
		t.Errorf("source = %q", h.Source)
	}
	if !h.ForceError {
		t.Error("expected force error")
	}
	if h.ReplyTo != "help@good.com" {
		t.Errorf("reply-to = %q", h.ReplyTo)
	}

	want := []Field{{Name: "X-Campaign", Value: "spring"}}
	if !reflect.DeepEqual(h.Fields, want) {
		t.Errorf("passthrough = %+v want %+v", h.Fields, want)
	}
}

func TestInterpretForceErrorNeedsExactMarker(t *testing.T) {
	for _, v := range []string{"TRUE", "1", "yes", ""} {
		h := Interpret(Lines(ForceErrorHeader + ": " + v))
		if h.ForceError {
			t.Errorf("value %q should not force an error", v)
		}
		if len(h.Fields) != 0 {
			t.Errorf("value %q leaked into passthrough", v)
		}
	}
}

func TestInterpretBBPressSource(t *testing.T) {
	h := Interpret(Lines("X-bbPress: 2.6.9"))
	if h.Source != BBPressSource {
		t.Fatalf("source = %q", h.Source)
	}
	if v, ok := h.Get("X-bbPress"); !ok || v != "2.6.9" {
		t.Fatalf("x-bbpress should pass through, got %q %v", v, ok)
	}

	h = Interpret(Lines("X-bbPress: 2.6.9", "X-EmailIt-Source: Forum"))
	if h.Source != "Forum" {
		t.Fatalf("explicit source should win, got %q", h.Source)
	}
}

func TestInterpretPairs(t *testing.T) {
	h := Interpret(Pairs(
		map[string]string{"X-EmailIt-Source": "FluentCRM"},
		map[string]string{"From": "CRM <crm@good.com>"},
		map[string]string{"X-Ignored": "value"},
	))

	if h.Source != "FluentCRM" || h.FromEmail != "crm@good.com" || h.FromName != "CRM" {
		t.Fatalf("unexpected header: %+v", h)
	}
	if len(h.Fields) != 0 {
		t.Fatalf("pairs should not pass through: %+v", h.Fields)
	}
}

func TestRawUnmarshalJSON(t *testing.T) {
	var fromString Raw
	if err := json.Unmarshal([]byte(`"From: a@b.com\r\nX-A: 1"`), &fromString); err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(fromString, Lines("From: a@b.com", "X-A: 1")) {
		t.Fatalf("lines = %+v", fromString)
	}

	var mixed Raw
	if err := json.Unmarshal([]byte(`["X-A: 1", {"From": "a@b.com"}]`), &mixed); err != nil {
		t.Fatal(err)
	}
	if len(mixed.Items) != 2 || mixed.Items[0].Line != "X-A: 1" || mixed.Items[1].Pair["From"] != "a@b.com" {
		t.Fatalf("unexpected raw: %+v", mixed)
	}

	b, err := json.Marshal(mixed)
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != `["X-A: 1",{"From":"a@b.com"}]` {
		t.Fatalf("order not kept: %s", b)
	}

	var bad Raw
	if err := json.Unmarshal([]byte(`[1]`), &bad); err == nil {
		t.Fatal("expected error for numeric item")
	}
}

func TestInterpretMixedFormsKeepInputOrder(t *testing.T) {
	var raw Raw
	if err := json.Unmarshal([]byte(`[{"From":"first@good.com"},"From: second@good.com"]`), &raw); err != nil {
		t.Fatal(err)
	}

	if h := Interpret(raw); h.FromEmail != "first@good.com" {
		t.Fatalf("first From should win, got %q", h.FromEmail)
	}

	if err := json.Unmarshal([]byte(`["From: first@good.com",{"From":"second@good.com"}]`), &raw); err != nil {
		t.Fatal(err)
	}

	if h := Interpret(raw); h.FromEmail != "first@good.com" {
		t.Fatalf("first From should win, got %q", h.FromEmail)
	}

	if err := json.Unmarshal([]byte(`[{"X-EmailIt-Source":"CRM"},"X-EmailIt-Source: Forum"]`), &raw); err != nil {
		t.Fatal(err)
	}

	if h := Interpret(raw); h.Source != "CRM" {
		t.Fatalf("first source should win, got %q", h.Source)
	}
}
