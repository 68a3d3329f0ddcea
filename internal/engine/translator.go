package engine

import "tolka/internal/models"

// TranslatorChangeRequested decides whether an update replaces the
// current translator assignment. Only the raw request fields are
// consulted, never the resolved user. With an existing assignment a
// replacement needs a non-zero translator id: a different id on its own,
// or any id together with translator_email, which forces the replacement
// even when the id names the incumbent. Without an assignment either
// field triggers the initial assignment.
func TranslatorChangeRequested(current *models.TranslatorAssignment, req models.UpdateRequest) bool {
	if current != nil {
		return (req.Translator != current.UserID || req.TranslatorEmail != "") && req.Translator != 0
	}
	return req.Translator != 0 || req.TranslatorEmail != ""
}
