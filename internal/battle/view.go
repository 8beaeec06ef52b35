// internal/battle/view.go
package battle

import (
	"github.com/google/uuid"
	"github.com/jason-s-yu/arena/internal/models"
)

// PlayerView is one side of the table as seen by a particular viewer. Hidden hand slots
// are nil so only the count leaks.
type PlayerView struct {
	UserID       int64          `json:"userId"`
	Hand         []*models.Card `json:"hand"`
	HandSize     int            `json:"handSize"`
	DrawPileSize int            `json:"drawPileSize"`
	DiscardSize  int            `json:"discardSize"`
	ActiveCard   *models.Card   `json:"activeCard"`
	Score        int            `json:"score"`
	IsViewer     bool           `json:"isViewer"`
}

// View is the full redacted snapshot pushed after every transition.
type View struct {
	RoomID              uuid.UUID    `json:"roomId"`
	CurrentPlayerUserID int64        `json:"currentPlayerUserId"`
	Players             []PlayerView `json:"players"`
}

// Project builds the snapshot for the connection viewerConnectionID. The caller must hold
// s.Mu. The result shares no memory with s.
func Project(s *Session, viewerConnectionID uuid.UUID) View {
	v := View{
		RoomID:              s.RoomID,
		CurrentPlayerUserID: s.CurrentTurnUserID,
		Players:             make([]PlayerView, 0, len(s.Players)),
	}
	for _, p := range s.Players {
		isViewer := p.ConnectionID == viewerConnectionID
		pv := PlayerView{
			UserID:       p.UserID,
			Hand:         make([]*models.Card, len(p.Hand)),
			HandSize:     len(p.Hand),
			DrawPileSize: len(p.DrawPile),
			DiscardSize:  len(p.Discard),
			Score:        p.Score,
			IsViewer:     isViewer,
		}
		if isViewer {
			for i := range p.Hand {
				c := p.Hand[i]
				pv.Hand[i] = &c
			}
		}
		if p.ActiveCard != nil {
			c := *p.ActiveCard
			pv.ActiveCard = &c
		}
		v.Players = append(v.Players, pv)
	}
	return v
}
