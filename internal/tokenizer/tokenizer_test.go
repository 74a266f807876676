package tokenizer

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{"empty", "", []string{}},
		{"whitespace", "   \t ", []string{}},
		{"path", "/home/User/Report_2024.PDF", []string{"home", "user", "report", "2024", "pdf"}},
		{"windows separators", `C:\Docs\Notes.txt`, []string{"c", "docs", "notes", "txt"}},
		{"diacritics", "Crème Brûlée.jpg", []string{"creme", "brulee", "jpg"}},
		{"umlaut", "Über Straße", []string{"uber", "straße"}},
		{"ligature", "ﬁle", []string{"file"}},
		{"dashes and dots", "my-file.v2.tar.gz", []string{"my", "file", "v2", "tar", "gz"}},
		{"cjk", "写真 2024", []string{"写真", "2024"}},
	}
	tok := Default()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, tok.Normalize(tt.in))
		})
	}
}

func TestNormalizeIsIdempotent(t *testing.T) {
	tok := Default()
	inputs := []string{"Crème Brûlée.jpg", "/a/B/c.TXT", "ÅNGSTRÖM-unit", "x"}
	for _, in := range inputs {
		once := tok.Normalize(in)
		twice := tok.Normalize(strings.Join(once, " "))
		require.Equal(t, once, twice, in)
	}
}

func TestMinLength(t *testing.T) {
	tok := New(3)
	require.Equal(t, []string{"report", "pdf"}, tok.Normalize("a/report.pdf"))
	// Length counts runes, not bytes.
	require.Equal(t, []string{"東京都"}, tok.Normalize("日本 東京都"))
	require.Equal(t, DefaultMinLength, New(0).MinLength())
}

func TestTokenizePositions(t *testing.T) {
	tokens := New(2).Tokenize("a bb c dd")
	require.Equal(t, []Token{{Term: "bb", Position: 0}, {Term: "dd", Position: 1}}, tokens)
}

func TestFold(t *testing.T) {
	require.Equal(t, "creme.txt", Fold("Crème.TXT"))
	require.Equal(t, "plain", Fold("PLAIN"))
}

var sampleNames = map[string]string{
	"short":  "Report.pdf",
	"path":   "/home/alice/projects/search-engine/internal/index/store_test.go",
	"accent": "/Users/Zoë/Photos/Été à Montréal/IMG_0042.HEIC",
	"long":   strings.Repeat("/deeply/nested/directory/structure", 40) + "/file.txt",
}

func BenchmarkTokenize(b *testing.B) {
	tok := Default()
	for name, text := range sampleNames {
		b.Run(name, func(b *testing.B) {
			b.ReportAllocs()
			b.SetBytes(int64(len(text)))
			for i := 0; i < b.N; i++ {
				_ = tok.Tokenize(text)
			}
		})
	}
}

func BenchmarkTokenizeParallel(b *testing.B) {
	tok := Default()
	text := sampleNames["accent"]
	b.ReportAllocs()
	b.SetBytes(int64(len(text)))
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			_ = tok.Tokenize(text)
		}
	})
}

func BenchmarkTokenizeVaryingSize(b *testing.B) {
	base := "/distributed/search/file-index/"
	for _, size := range []int{10, 100, 500, 1000} {
		text := strings.Repeat(base, size/len(base)+1)[:size]
		b.Run(fmt.Sprintf("bytes_%d", size), func(b *testing.B) {
			b.ReportAllocs()
			b.SetBytes(int64(len(text)))
			for i := 0; i < b.N; i++ {
				_ = Default().Tokenize(text)
			}
		})
	}
}
