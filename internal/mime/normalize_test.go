package mime

import (
	"reflect"
	"strings"
	"testing"

	"github.com/relatia/mailpipe/internal/models"
)

func testRaw(data string) *models.RawMessage {
	return &models.RawMessage{
		AccountID:  "acc-1",
		ExternalID: "42",
		Data:       []byte(data),
	}
}

func TestNormalize(t *testing.T) {
	raw := testRaw(strings.Join([]string{
		"From: Jane Doe <Jane@Example.com>",
		"To: bob@example.com, Carol <carol@example.com>",
		"Cc: dave@example.com",
		"Subject: =?UTF-8?B?UXVhcnRlcmx5IG51bWJlcnM=?=",
		"Date: Mon, 01 Jan 2024 09:00:00 +0000",
		"Message-ID: <msg-1@example.com>",
		"In-Reply-To: <msg-0@example.com>",
		"References: <thread-root@example.com> <msg-0@example.com>",
		"X-Priority: 1 (Highest)",
		"Content-Type: text/plain; charset=utf-8",
		"",
		"the body",
	}, "\n"))

	msg, tree, err := Normalize(raw)
	if err != nil {
		t.Fatal(err)
	}
	if tree == nil {
		t.Fatal("no tree returned")
	}

	if msg.From != "jane@example.com" {
		t.Error("jane@example.com", "!=", msg.From)
	}
	wantTo := []string{"bob@example.com", "carol@example.com"}
	if !reflect.DeepEqual(msg.To, wantTo) {
		t.Error(wantTo, "!=", msg.To)
	}
	if msg.Subject != "Quarterly numbers" {
		t.Error("Quarterly numbers", "!=", msg.Subject)
	}
	if msg.SentAt.IsZero() {
		t.Error("date not parsed")
	}
	if msg.Headers.MessageID != "<msg-1@example.com>" {
		t.Error("<msg-1@example.com>", "!=", msg.Headers.MessageID)
	}
	if msg.Headers.InReplyTo != "<msg-0@example.com>" {
		t.Error("<msg-0@example.com>", "!=", msg.Headers.InReplyTo)
	}
	wantRefs := []string{"<thread-root@example.com>", "<msg-0@example.com>"}
	if !reflect.DeepEqual(msg.Headers.References, wantRefs) {
		t.Error(wantRefs, "!=", msg.Headers.References)
	}
	if msg.Headers.Importance != "high" {
		t.Error("high", "!=", msg.Headers.Importance)
	}
	if msg.Text != "the body" {
		t.Error("the body", "!=", msg.Text)
	}
	if msg.Degraded {
		t.Error("unexpected degradation")
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	raw := testRaw("From: a@example.com\nSubject: hi\n\nsame input, same output\n")

	first, _, err := Normalize(raw)
	if err != nil {
		t.Fatal(err)
	}
	second, _, err := Normalize(raw)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Error(first, "!=", second)
	}
}

func TestNormalizeParallelBodies(t *testing.T) {
	raw := testRaw(strings.Join([]string{
		`Content-Type: multipart/alternative; boundary="BBB"`,
		"",
		"--BBB",
		"Content-Type: text/plain",
		"",
		"plain version",
		"--BBB",
		"Content-Type: text/html",
		"",
		"<p>html version</p>",
		"--BBB--",
		"",
	}, "\n"))

	msg, _, err := Normalize(raw)
	if err != nil {
		t.Fatal(err)
	}
	if !msg.ParallelBodies {
		t.Error("parallel bodies not detected")
	}
	if msg.Text != "plain version" {
		t.Error("plain version", "!=", msg.Text)
	}
	if msg.HTML != "<p>html version</p>" {
		t.Error("<p>html version</p>", "!=", msg.HTML)
	}
}

func TestNormalizeSignedDetection(t *testing.T) {
	raw := testRaw(strings.Join([]string{
		`Content-Type: multipart/signed; boundary="SSS"; protocol="application/pkcs7-signature"`,
		"",
		"--SSS",
		"Content-Type: text/plain",
		"",
		"signed content",
		"--SSS",
		"Content-Type: application/pkcs7-signature",
		"",
		"signature bytes",
		"--SSS--",
		"",
	}, "\n"))

	msg, _, err := Normalize(raw)
	if err != nil {
		t.Fatal(err)
	}
	if !msg.Headers.Signed {
		t.Error("signed message not detected")
	}
	if msg.Headers.Encrypted {
		t.Error("message is not encrypted")
	}
}

func TestImportance(t *testing.T) {
	tests := map[string]struct {
		importance string
		priority   string
		expected   string
	}{
		"high header":   {"High", "", "high"},
		"low header":    {"low", "", "low"},
		"priority 1":    {"", "1 (Highest)", "high"},
		"priority 5":    {"", "5 (Lowest)", "low"},
		"priority 3":    {"", "3 (Normal)", ""},
		"nothing":       {"", "", ""},
		"header wins":   {"high", "5", "high"},
		"unknown value": {"urgent", "", ""},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			output := importance(tc.importance, tc.priority)
			if output != tc.expected {
				t.Error(tc.expected, "!=", output)
			}
		})
	}
}

func TestAddressList(t *testing.T) {
	tests := map[string]struct {
		in       string
		expected []string
	}{
		"single":      {"bob@example.com", []string{"bob@example.com"}},
		"named":       {"Bob <Bob@Example.com>", []string{"bob@example.com"}},
		"list":        {"a@example.com, B <b@example.com>", []string{"a@example.com", "b@example.com"}},
		"broken list": {"a@example.com,, <b@example.com", []string{"a@example.com", "b@example.com"}},
		"empty":       {"  ", nil},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			output := addressList(tc.in)
			if !reflect.DeepEqual(output, tc.expected) {
				t.Error(tc.expected, "!=", output)
			}
		})
	}
}
