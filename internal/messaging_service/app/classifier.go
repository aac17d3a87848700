package app

import (
	"strings"
	"unicode"

	"github.com/whatsgate/golang_services/internal/messaging_service/domain"
)

// Rule pairs a predicate with the intent it yields.
type Rule struct {
	Intent domain.Intent
	Match  func(text string, prior *domain.ConversationContext) bool
}

// IntentClassifier evaluates rules in order; the first match wins and no
// match yields domain.IntentUnknown. It performs no I/O.
type IntentClassifier struct {
	rules []Rule
}

func NewIntentClassifier(rules ...Rule) *IntentClassifier {
	if len(rules) == 0 {
		rules = DefaultRules()
	}
	return &IntentClassifier{rules: rules}
}

func (c *IntentClassifier) Classify(text string, prior *domain.ConversationContext) domain.Intent {
	normalized := normalizeText(text)
	for _, r := range c.rules {
		if r.Match(normalized, prior) {
			return r.Intent
		}
	}
	return domain.IntentUnknown
}

// DefaultRules covers English and French wording. Escalations come first so
// that "I want to pay but nothing works, agent please" reaches a human.
func DefaultRules() []Rule {
	return []Rule{
		{domain.IntentHumanAgent, anyPhrase("agent", "human", "humain", "conseiller", "operator", "operateur",
			"real person", "talk to someone", "speak to someone", "parler a quelqu un", "service client")},
		{domain.IntentComplaint, anyPhrase("complaint", "complain", "plainte", "reclamation", "probleme", "problem",
			"not received", "pas recu", "refund", "rembourse", "remboursement", "arnaque", "broken", "casse")},
		{domain.IntentPayment, anyPhrase("pay", "payer", "paye", "paiement", "payment", "wave", "orange money",
			"facture", "invoice")},
		{domain.IntentOrderStatus, anyPhrase("order", "commande", "status", "statut", "where is", "ou est",
			"livraison", "delivery", "track", "suivi")},
		{domain.IntentCatalog, anyPhrase("catalog", "catalogue", "menu", "products", "produits", "price", "prix",
			"tarif")},
		{domain.IntentGreeting, anyPhrase("hello", "hi", "hey", "bonjour", "bonsoir", "salut", "salam",
			"good morning")},
		{domain.IntentConfirm, continuation("yes", "oui", "ok", "okay", "d accord", "daccord", "confirm",
			"confirmer", "je confirme", "1")},
	}
}

// anyPhrase matches whole words or word sequences of the normalized text.
func anyPhrase(phrases ...string) func(string, *domain.ConversationContext) bool {
	padded := make([]string, len(phrases))
	for i, p := range phrases {
		padded[i] = " " + p + " "
	}
	return func(text string, _ *domain.ConversationContext) bool {
		t := " " + text + " "
		for _, p := range padded {
			if strings.Contains(t, p) {
				return true
			}
		}
		return false
	}
}

// continuation matches a bare acknowledgement when the conversation already
// has an intent in progress.
func continuation(answers ...string) func(string, *domain.ConversationContext) bool {
	set := make(map[string]struct{}, len(answers))
	for _, a := range answers {
		set[a] = struct{}{}
	}
	return func(text string, prior *domain.ConversationContext) bool {
		if prior == nil || prior.CurrentIntent == "" || prior.CurrentIntent == domain.IntentUnknown {
			return false
		}
		_, ok := set[text]
		return ok
	}
}

var accentFolds = strings.NewReplacer(
	"à", "a", "â", "a", "ä", "a",
	"ç", "c",
	"é", "e", "è", "e", "ê", "e", "ë", "e",
	"î", "i", "ï", "i",
	"ô", "o", "ö", "o",
	"ù", "u", "û", "u", "ü", "u",
)

// normalizeText lowercases, folds French accents and collapses every run of
// non-alphanumerics into one space.
func normalizeText(text string) string {
	folded := accentFolds.Replace(strings.ToLower(text))
	var b strings.Builder
	b.Grow(len(folded))
	space := true
	for _, r := range folded {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			space = false
			continue
		}
		if !space {
			b.WriteByte(' ')
			space = true
		}
	}
	return strings.TrimSpace(b.String())
}
