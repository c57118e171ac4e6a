package markdown

import "testing"

func TestRender(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "hello world", "hello world"},
		{"bold", "**bold**", "<strong>bold</strong>"},
		{"italic", "*it*", "<em>it</em>"},
		{"code", "`x := 1`", "<code>x := 1</code>"},
		{"newline", "a\nb", "a<br>b"},
		{"mixed", "**a** *b*\nc", "<strong>a</strong> <em>b</em><br>c"},
		{"bold wins over italic", "**a**", "<strong>a</strong>"},
		{"italic inside bold", "**a *b* c**", "<strong>a <em>b</em> c</strong>"},
		{"unclosed bold", "**a", "**a"},
		{"unclosed italic", "*a", "*a"},
		{"unclosed code", "`a", "`a"},
		{"lone trailing star", "a*", "a*"},
		{"html escaped", "<script>alert(1)</script>", "&lt;script&gt;alert(1)&lt;/script&gt;"},
		{"html inside bold escaped", "**<b>hi</b>**", "<strong>&lt;b&gt;hi&lt;/b&gt;</strong>"},
		{"ampersand", "fish & chips", "fish &amp; chips"},
		{"quotes", `say "hi" it's fine`, "say &quot;hi&quot; it&#39;s fine"},
		{"code keeps stars literal", "`**x**`", "<code>**x**</code>"},
		{"unicode passthrough", "O₃ läuft", "O₃ läuft"},
		{"empty", "", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Render(tc.in); got != tc.want {
				t.Errorf("Render(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestEscape(t *testing.T) {
	if got := Escape(`<a href="x">&'`); got != "&lt;a href=&quot;x&quot;&gt;&amp;&#39;" {
		t.Errorf("Escape: got %q", got)
	}
}
