package reply

import (
	"bytes"
	"io"
	"testing"
	"time"

	"github.com/emersion/go-message/mail"
)

func TestComposeProducesPlainTextReply(t *testing.T) {
	to := &mail.Address{Name: "Alice", Address: "a@x.com"}
	raw, err := compose(self, to, DefaultTemplate, "", time.Date(2024, time.March, 9, 10, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("compose: %v", err)
	}

	r, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("parse composed message: %v", err)
	}
	subject, err := r.Header.Subject()
	if err != nil || subject != "Re: Your Message" {
		t.Fatalf("subject = %q, %v", subject, err)
	}
	toList, err := r.Header.AddressList("To")
	if err != nil || len(toList) != 1 || toList[0].Address != "a@x.com" {
		t.Fatalf("to = %v, %v", toList, err)
	}
	if r.Header.Get("Mime-Version") != "1.0" {
		t.Fatalf("missing MIME-Version")
	}
	if r.Header.Has("In-Reply-To") || r.Header.Has("References") {
		t.Fatalf("standalone reply must not carry threading headers")
	}
	ct, params, err := r.Header.ContentType()
	if err != nil || ct != "text/plain" || params["charset"] != "UTF-8" {
		t.Fatalf("content type %q %v %v", ct, params, err)
	}

	part, err := r.NextPart()
	if err != nil {
		t.Fatalf("next part: %v", err)
	}
	body, err := io.ReadAll(part.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if string(body) != "Thanks for contacting." {
		t.Fatalf("body = %q", body)
	}
}

func TestComposeThreadsUnderParent(t *testing.T) {
	to := &mail.Address{Address: "a@x.com"}
	raw, err := compose(self, to, DefaultTemplate, "abc@mail.x.com", time.Date(2024, time.March, 9, 10, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("compose: %v", err)
	}
	r, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("parse composed message: %v", err)
	}
	for _, key := range []string{"In-Reply-To", "References"} {
		ids, err := r.Header.MsgIDList(key)
		if err != nil || len(ids) != 1 || ids[0] != "abc@mail.x.com" {
			t.Fatalf("%s = %v, %v", key, ids, err)
		}
	}
}

func TestParseMessageID(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "<abc@mail.x.com>", want: "abc@mail.x.com"},
		{in: "  <abc@mail.x.com> ", want: "abc@mail.x.com"},
		{in: "", want: ""},
		{in: "garbage", want: ""},
	}
	for _, tc := range tests {
		if got := parseMessageID(tc.in); got != tc.want {
			t.Fatalf("parseMessageID(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestParseSender(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{in: "Alice <a@x.com>", want: "a@x.com", ok: true},
		{in: "a@x.com", want: "a@x.com", ok: true},
		{in: "<a@x.com>", want: "a@x.com", ok: true},
		{in: "", ok: false},
		{in: "undisclosed-recipients:;", ok: false},
		{in: "not an address", ok: false},
		{in: "=?koi8-r?B?6dfBzg==?= <ivan@x.ru>", want: "ivan@x.ru", ok: true},
		{in: "=?windows-1251?B?yOLg7Q==?= <ivan@x.ru>", want: "ivan@x.ru", ok: true},
		{in: "=?gb2312?B?1cXI/Q==?= <zhang@x.cn>", want: "zhang@x.cn", ok: true},
		{in: "=?iso-2022-jp?B?GyRCOzNFRBsoQg==?= <yamada@x.jp>", want: "yamada@x.jp", ok: true},
		{in: "=?x-unknown?B?QUJD?= <c@x.com>", want: "c@x.com", ok: true},
		{in: "Bob (unterminated <b@x.com>", want: "b@x.com", ok: true},
		{in: "Bob <not-an-address>", ok: false},
	}
	for _, tc := range tests {
		got, ok := parseSender(tc.in)
		if ok != tc.ok {
			t.Fatalf("parseSender(%q) ok=%v", tc.in, ok)
		}
		if ok && got.Address != tc.want {
			t.Fatalf("parseSender(%q) = %q", tc.in, got.Address)
		}
	}
}

func TestHeaderValueIsCaseInsensitive(t *testing.T) {
	h := map[string]string{"from": "a@x.com"}
	if headerValue(h, "From") != "a@x.com" {
		t.Fatalf("lookup failed")
	}
}
