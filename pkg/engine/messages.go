package engine

import (
	"fmt"

	"pixfunnel/pkg/money"
)

// User-facing copy. All conversations run in Brazilian Portuguese; the
// dashboard controls funnel text, these are only the fixed system replies.
const (
	msgNotConfigured = "Este botão ainda não foi configurado. Tente novamente mais tarde."

	msgFunnelUnavailable = "Este bot ainda não está configurado. Volte em breve!"

	msgPixFailed = "Não foi possível gerar o Pix agora. Tente novamente em instantes."

	msgPaymentConfirmed = "Pagamento confirmado! ✅ Obrigado pela compra."

	msgPaymentCheckFailed = "Não foi possível verificar o pagamento agora. Tente novamente em instantes."

	msgUnknownButton = "Não encontramos esta opção. Aqui está o menu atualizado:"

	msgTransactionNotFound = "Não encontramos uma cobrança ativa para este chat. " +
		"Escolha uma opção no menu para gerar um novo Pix."

	msgBumpAccepted = "Ótima escolha! 🔥 Adicionamos a oferta ao seu pedido."

	msgBumpRejected = "Sem problemas! Seguindo com o pedido original."

	confirmButtonText = "Já paguei ✅"
)

func msgPaymentPending(status string) string {
	if status == "" {
		status = "pendente"
	}
	return fmt.Sprintf("Ainda não identificamos o seu pagamento (status: %s). "+
		"Aguarde alguns instantes após pagar e toque novamente em \"Já paguei ✅\".", status)
}

func msgInvalidValue(ceiling money.Cents) string {
	return fmt.Sprintf("O valor deste produto está fora do limite permitido (máximo %s). "+
		"Fale com o suporte.", ceiling.FormatBRL())
}

func msgPixIntro(productName string, amount money.Cents) string {
	return fmt.Sprintf("Pix gerado para %s no valor de %s.\n\n"+
		"Toque no código da próxima mensagem para copiar, pague no app do seu banco "+
		"e depois toque em \"Já paguei ✅\".", productName, amount.FormatBRL())
}

func msgLinkButton(productName string) string {
	return fmt.Sprintf("Acesse %s pelo botão abaixo:", productName)
}
