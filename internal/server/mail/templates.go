package mail

import (
	"fmt"
	"html"
	"strings"
)

// PasswordResetMessage renders the reset code e-mail.
func PasswordResetMessage(to, code string) Message {
	text := fmt.Sprintf("Seu código é: %s\n\nExpira em 15 minutos.\n\nSe você não solicitou isso, ignore este email.", code)
	return Message{
		To:      to,
		Subject: "ToDo Premium — Código para redefinir sua senha",
		Text:    text,
		HTML:    "<p>" + strings.ReplaceAll(html.EscapeString(text), "\n", "<br>") + "</p>",
	}
}
