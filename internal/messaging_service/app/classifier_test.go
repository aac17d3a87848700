package app

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/whatsgate/golang_services/internal/messaging_service/domain"
)

func TestIntentClassifier_Classify(t *testing.T) {
	c := NewIntentClassifier()

	tests := []struct {
		text string
		want domain.Intent
	}{
		{"Bonjour !", domain.IntentGreeting},
		{"hi there", domain.IntentGreeting},
		{"Je veux payer avec Wave", domain.IntentPayment},
		{"Où est ma commande ?", domain.IntentOrderStatus},
		{"Can I see the menu?", domain.IntentCatalog},
		{"J'ai un problème avec ma livraison", domain.IntentComplaint},
		{"Je voudrais parler à un conseiller", domain.IntentHumanAgent},
		{"agent please, I have a problem paying", domain.IntentHumanAgent},
		{"this is unrelated", domain.IntentUnknown},
		{"", domain.IntentUnknown},
		// word boundaries: "history" must not match "hi", "display" not "pay"
		{"history display", domain.IntentUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			assert.Equal(t, tt.want, c.Classify(tt.text, nil))
		})
	}
}

func TestIntentClassifier_FirstMatchWins(t *testing.T) {
	c := NewIntentClassifier()
	// payment and order_status both match; payment comes first.
	assert.Equal(t, domain.IntentPayment, c.Classify("payer ma commande", nil))
}

func TestIntentClassifier_Continuation(t *testing.T) {
	c := NewIntentClassifier()

	assert.Equal(t, domain.IntentUnknown, c.Classify("oui", nil))
	assert.Equal(t, domain.IntentUnknown, c.Classify("oui", &domain.ConversationContext{CurrentIntent: domain.IntentUnknown}))
	assert.Equal(t, domain.IntentConfirm, c.Classify("Oui", &domain.ConversationContext{CurrentIntent: domain.IntentPayment}))
	assert.Equal(t, domain.IntentConfirm, c.Classify("d'accord", &domain.ConversationContext{CurrentIntent: domain.IntentCatalog}))
}

func TestIntentClassifier_CustomRules(t *testing.T) {
	c := NewIntentClassifier(Rule{Intent: domain.IntentCatalog, Match: anyPhrase("thieb")})
	assert.Equal(t, domain.IntentCatalog, c.Classify("Thieb disponible ?", nil))
	assert.Equal(t, domain.IntentUnknown, c.Classify("bonjour", nil))
}

func TestNormalizeText(t *testing.T) {
	assert.Equal(t, "ou est ma commande", normalizeText("  Où est   ma commande?!"))
	assert.Equal(t, "d accord", normalizeText("D'accord"))
	assert.Equal(t, "", normalizeText("?!"))
}
