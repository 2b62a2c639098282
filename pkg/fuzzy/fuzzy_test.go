package fuzzy

import "testing"

func TestLevenshteinDistance(t *testing.T) {
	cases := []struct {
		a, b string
		want int
	}{
		{"", "abc", 3},
		{"engineer", "enginer", 1},
		{"Kitten", "sitting", 3},
		{"Go", "go", 0},
	}
	for _, c := range cases {
		if got := LevenshteinDistance(c.a, c.b); got != c.want {
			t.Errorf("LevenshteinDistance(%q, %q) = %d, want %d", c.a, c.b, got, c.want)
		}
	}
}

func TestTitleSimilarity(t *testing.T) {
	if s := TitleSimilarity("Sr. Backend Engineer", "Senior Backend Engineer"); s != 1 {
		t.Errorf("abbreviations should normalize, got %.2f", s)
	}
	if s := TitleSimilarity("Backend Enginer", "Backend Engineer"); s != 1 {
		t.Errorf("single typo should still match fully, got %.2f", s)
	}
	if s := TitleSimilarity("Backend Engineer", "Senior Backend Engineer"); s < 0.9 {
		t.Errorf("contained title should score >= 0.9, got %.2f", s)
	}
	if s := TitleSimilarity("Data Analyst", "Backend Engineer"); s != 0 {
		t.Errorf("unrelated titles should score 0, got %.2f", s)
	}
	if s := TitleSimilarity("", "Backend Engineer"); s != 0 {
		t.Errorf("empty title should score 0, got %.2f", s)
	}
}

func TestBestMatch(t *testing.T) {
	roles := []string{"Frontend Engineer", "Senior Backend Engineer", "Data Analyst"}

	idx, score := BestMatch("Backend Engineer", roles, 0.6)
	if idx != 1 {
		t.Fatalf("expected Senior Backend Engineer, got index %d (score %.2f)", idx, score)
	}

	idx, _ = BestMatch("Office Manager", roles, 0.6)
	if idx != -1 {
		t.Fatalf("expected no match, got index %d", idx)
	}
}
