package driven

import (
	"io"

	"github.com/custodia-labs/deskrag/internal/core/domain"
)

// CardExporter writes published cards to a document format analysts open
// outside DeskRAG.
type CardExporter interface {
	// ExportCards writes cards to w in order.
	ExportCards(w io.Writer, cards []domain.BondInformationCard) error
}
