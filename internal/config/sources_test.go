package config

import (
	"strings"
	"testing"

	"github.com/John-Robertt/blockagg/internal/domain"
)

func TestParseSources_SkipsBlankCommentsAndDuplicates(t *testing.T) {
	in := "https://a.test/list\n\n  # mirror disabled\nhttps://b.test/hosts  \r\nhttps://a.test/list\n"
	got, err := ParseSources(strings.NewReader(in))
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	want := []domain.SourceURL{"https://a.test/list", "https://b.test/hosts"}
	if len(got) != len(want) {
		t.Fatalf("期望 %v，实际 %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("顺序或内容不正确：期望 %v，实际 %v", want, got)
		}
	}
}

func TestParseSources_Empty(t *testing.T) {
	got, err := ParseSources(strings.NewReader("\n\n#only comments\n"))
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if len(got) != 0 {
		t.Fatalf("期望空列表，实际 %v", got)
	}
}
