package app

import (
	"github.com/whatsgate/golang_services/internal/messaging_service/domain"
)

// Reply is the automatic answer to one classified message.
type Reply struct {
	Content domain.Content
	// Step is stored as the conversation's current_step.
	Step string
}

// Responder maps intents to static replies. Business-specific flows (order
// lookup, catalog rendering) live in the commerce service.
type Responder struct {
	replies map[domain.Intent]Reply
}

func NewResponder(replies map[domain.Intent]Reply) *Responder {
	if replies == nil {
		replies = DefaultReplies()
	}
	return &Responder{replies: replies}
}

func (r *Responder) Respond(intent domain.Intent) (Reply, bool) {
	reply, ok := r.replies[intent]
	if !ok {
		reply, ok = r.replies[domain.IntentUnknown]
	}
	return reply, ok
}

func DefaultReplies() map[domain.Intent]Reply {
	return map[domain.Intent]Reply{
		domain.IntentGreeting: {
			Content: domain.TextContent("Bonjour ! Comment pouvons-nous vous aider ? Tapez « menu », « commande » ou « payer »."),
			Step:    "menu",
		},
		domain.IntentCatalog: {
			Content: domain.TextContent("Voici notre catalogue. Répondez avec le nom du produit pour commander."),
			Step:    "browsing",
		},
		domain.IntentOrderStatus: {
			Content: domain.TextContent("Nous vérifions votre commande, vous recevrez une mise à jour très bientôt."),
			Step:    "order_lookup",
		},
		domain.IntentPayment: {
			Content: domain.TextContent("Vous pouvez payer par Wave ou Orange Money. Le lien de paiement vous sera envoyé ici."),
			Step:    "awaiting_payment",
		},
		domain.IntentConfirm: {
			Content: domain.TextContent("C'est noté, merci !"),
		},
		domain.IntentComplaint: {
			Content: domain.TextContent("Nous sommes désolés. Votre réclamation a été transmise à notre équipe."),
			Step:    "escalated",
		},
		domain.IntentHumanAgent: {
			Content: domain.TextContent("Un conseiller va vous répondre dans un instant."),
			Step:    "escalated",
		},
		domain.IntentUnknown: {
			Content: domain.TextContent("Désolé, je n'ai pas compris. Tapez « menu » pour voir les options ou « agent » pour parler à un conseiller."),
		},
	}
}
