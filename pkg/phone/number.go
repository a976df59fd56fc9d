package phone

import (
	"strings"

	"github.com/emiago/sipgo/sip"
)

// NormalizeNumber приводит произвольно записанный номер к адресуемому
// шлюзом SIP URI в домене domain.
//
// Правила нормализации:
//   - все нецифровые символы отбрасываются;
//   - 11 цифр с ведущей 7 — ведущая цифра заменяется на 8;
//   - ровно 10 цифр — добавляется ведущая 8;
//   - любая другая длина остается без изменений.
//
// Нормализация тотальна на любой строке цифр и идемпотентна: уже готовый
// SIP URI возвращается как есть.
func NormalizeNumber(number, domain string) string {
	if strings.HasPrefix(number, "sip:") || strings.HasPrefix(number, "sips:") {
		return number
	}

	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, number)

	switch {
	case len(digits) == 11 && digits[0] == '7':
		digits = "8" + digits[1:]
	case len(digits) == 10:
		digits = "8" + digits
	}

	uri := sip.Uri{Scheme: "sip", User: digits, Host: domain}
	return uri.String()
}

// defaultProxy строит URI прокси по умолчанию для домена.
func defaultProxy(domain string) string {
	uri := sip.Uri{Scheme: "sip", Host: domain, Port: 5060}
	return uri.String()
}

// sipUserURI строит адрес аккаунта; полный URI пропускается как есть.
func sipUserURI(user, domain string) string {
	if strings.HasPrefix(user, "sip:") || strings.HasPrefix(user, "sips:") {
		return user
	}
	uri := sip.Uri{Scheme: "sip", User: user, Host: domain}
	return uri.String()
}
