package sortname

import "testing"

func TestAuthorSort(t *testing.T) {
	r := DefaultRules()

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"simple", "A B", "B, A"},
		{"three tokens", "John Ronald Tolkien", "Tolkien, John Ronald"},
		{"single token", "Plato", "Plato"},
		{"empty", "", ""},
		{"already comma", "Tolkien, J. R. R.", "Tolkien, J. R. R."},
		{"suffix", "Martin Luther King Jr.", "King, Martin Luther Jr."},
		{"prefix", "Dr. John Watson", "Watson, John"},
		{"copy word", "Acme Software", "Acme Software"},
		{"bracketed", "Iain Banks (author)", "Banks, Iain"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := r.AuthorSort(tt.input); got != tt.expected {
				t.Errorf("AuthorSort(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestAuthorSort_Methods(t *testing.T) {
	tests := []struct {
		method   string
		input    string
		expected string
	}{
		{MethodCopy, "John Smith", "John Smith"},
		{MethodNoComma, "John Smith", "Smith John"},
		{MethodInvert, "Smith, John", "John, Smith,"},
		{MethodComma, "Smith, John", "Smith, John"},
	}

	for _, tt := range tests {
		t.Run(tt.method, func(t *testing.T) {
			r := DefaultRules()
			r.AuthorCopyMethod = tt.method
			if got := r.AuthorSort(tt.input); got != tt.expected {
				t.Errorf("AuthorSort(%q) with %s = %q, want %q", tt.input, tt.method, got, tt.expected)
			}
		})
	}
}

func TestAuthorSort_SurnamePrefixes(t *testing.T) {
	r := DefaultRules()
	r.UseSurnamePrefixes = true

	if got := r.AuthorSort("Ludwig van Beethoven"); got != "van Beethoven, Ludwig" {
		t.Errorf("got %q", got)
	}
}

func TestTitleSort(t *testing.T) {
	r := DefaultRules()

	tests := []struct {
		title    string
		lang     string
		expected string
	}{
		{"The Hobbit", "", "Hobbit, The"},
		{"A Game of Thrones", "eng", "Game of Thrones, A"},
		{"An Apple", "en", "Apple, An"},
		{"Hello", "", "Hello"},
		{"  The  Spaced  ", "", "Spaced, The"},
		{"\"The Quoted\"", "", "Quoted\", The"},
		{"Der Zauberberg", "de", "Zauberberg, Der"},
		{"L'Étranger", "fra", "Étranger, L'"},
		{"Der Zauberberg", "eng", "Der Zauberberg"},
		{"", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.title, func(t *testing.T) {
			if got := r.TitleSort(tt.title, tt.lang); got != tt.expected {
				t.Errorf("TitleSort(%q, %q) = %q, want %q", tt.title, tt.lang, got, tt.expected)
			}
		})
	}
}

func TestTitleSort_StrictlyAlphabetic(t *testing.T) {
	r := DefaultRules()
	r.StrictlyAlphabetic = true

	if got := r.TitleSort("The Hobbit", ""); got != "The Hobbit" {
		t.Errorf("got %q", got)
	}
}

func TestSetDefault(t *testing.T) {
	t.Cleanup(func() { SetDefault(nil) })

	r := DefaultRules()
	r.AuthorCopyMethod = MethodCopy
	SetDefault(r)

	if got := AuthorSort("John Smith"); got != "John Smith" {
		t.Errorf("AuthorSort with copy rules = %q", got)
	}

	SetDefault(nil)
	if got := AuthorSort("John Smith"); got != "Smith, John" {
		t.Errorf("AuthorSort after reset = %q", got)
	}
}
