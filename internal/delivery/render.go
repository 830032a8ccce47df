package delivery

import (
	"fmt"

	"github.com/dunamis-labs/agenda-core/internal/jobs"
)

// Renderer turns a job's kind and payload snapshot into the plain-text body
// transmitted through the chat gateway. Output is plain text only; the chat
// platform does not support rich formatting.
type Renderer struct{}

// NewRenderer builds the default fixed-template renderer.
func NewRenderer() *Renderer {
	return &Renderer{}
}

// Render produces the outbound text for a job, or an error if the kind has
// no known template.
func (r *Renderer) Render(kind jobs.Kind, payload jobs.Payload) (string, error) {
	switch kind {
	case jobs.KindPreVisit:
		return fmt.Sprintf(
			"Olá! Lembrete do seu horário: %s com %s às %s em %s. Endereço: %s. "+
				"Caso precise remarcar, responda esta mensagem.",
			payload.Service, payload.Professional,
			payload.AppointmentStart.Format("15:04"),
			payload.BusinessName, payload.BusinessAddress,
		), nil
	case jobs.KindNoShowCheck:
		return fmt.Sprintf(
			"Confirma presença no seu horário de %s amanhã às %s? "+
				"Responda SIM para confirmar ou NÃO para reagendar.",
			payload.Service, payload.AppointmentStart.Format("15:04"),
		), nil
	default:
		return "", fmt.Errorf("delivery: no template for job kind %q", kind)
	}
}
