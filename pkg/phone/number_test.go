package phone

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestNormalizeNumber проверяет правила нормализации на типичных
// написаниях номеров.
func TestNormalizeNumber(t *testing.T) {
	const domain = "sip.example.org"

	tests := []struct {
		name   string
		number string
		want   string
	}{
		{
			name:   "международный формат с пробелами",
			number: "+7 777 123 45 67",
			want:   "sip:87771234567@sip.example.org",
		},
		{
			name:   "десять цифр без префикса",
			number: "7001234567",
			want:   "sip:87001234567@sip.example.org",
		},
		{
			name:   "одиннадцать цифр с ведущей семеркой",
			number: "77001234567",
			want:   "sip:87001234567@sip.example.org",
		},
		{
			name:   "одиннадцать цифр с ведущей восьмеркой",
			number: "8 (700) 123-45-67",
			want:   "sip:87001234567@sip.example.org",
		},
		{
			name:   "короткий номер проходит без изменений",
			number: "112",
			want:   "sip:112@sip.example.org",
		},
		{
			name:   "длинный номер проходит без изменений",
			number: "001177001234567",
			want:   "sip:001177001234567@sip.example.org",
		},
		{
			name:   "готовый SIP URI не трогаем",
			number: "sip:87001234567@sip.example.org",
			want:   "sip:87001234567@sip.example.org",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeNumber(tt.number, domain))
		})
	}
}

// TestNormalizeNumberIdempotent: повторная нормализация результата
// ничего не меняет.
func TestNormalizeNumberIdempotent(t *testing.T) {
	const domain = "sip.example.org"

	for _, number := range []string{"+7 777 123 45 67", "7001234567", "112", "8-700-123-45-67"} {
		once := NormalizeNumber(number, domain)
		assert.Equal(t, once, NormalizeNumber(once, domain), "номер %q", number)
	}
}

func TestDefaultProxy(t *testing.T) {
	assert.Equal(t, "sip:sip.example.org:5060", defaultProxy("sip.example.org"))
}

func TestSipUserURI(t *testing.T) {
	assert.Equal(t, "sip:7000@sip.example.org", sipUserURI("7000", "sip.example.org"))
	assert.Equal(t, "sip:ops@pbx.local", sipUserURI("sip:ops@pbx.local", "sip.example.org"))
}
