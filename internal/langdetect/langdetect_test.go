package langdetect

import "testing"

func TestDetect(t *testing.T) {
	cases := []struct {
		name string
		text string
		want Language
	}{
		{"english", "What is the capital of France?", English},
		{"russian", "что такое машинное обучение", Russian},
		{"uzbek_latin", "bu qanday ishlaydi va nima uchun kerak", Uzbek},
		{"uzbek_cyrillic_particle", "бу қандай ишлайди", Uzbek},
		{"empty", "", Unknown},
		{"short_latin_no_stopwords", "asdf qwer", Unknown},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Detect(tc.text)
			if got.Language != tc.want {
				t.Errorf("Detect(%q) = %v, want %v", tc.text, got.Language, tc.want)
			}
		})
	}
}

func TestResolve(t *testing.T) {
	t.Run("uses detected language when confident", func(t *testing.T) {
		got := Resolve(Result{Language: Russian}, "en")
		if got != Russian {
			t.Errorf("got %v, want %v", got, Russian)
		}
	})

	t.Run("falls back to preference when unknown", func(t *testing.T) {
		got := Resolve(Result{Language: Unknown}, "uz")
		if got != Uzbek {
			t.Errorf("got %v, want %v", got, Uzbek)
		}
	})

	t.Run("falls back to english when no preference and unknown", func(t *testing.T) {
		got := Resolve(Result{Language: Unknown}, "")
		if got != English {
			t.Errorf("got %v, want %v", got, English)
		}
	})

	t.Run("ignores invalid preference", func(t *testing.T) {
		got := Resolve(Result{Language: Unknown}, "fr")
		if got != English {
			t.Errorf("got %v, want %v", got, English)
		}
	})
}
