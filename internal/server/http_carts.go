package server

import (
	"net/http"

	"github.com/alfredjeanlab/relay/internal/idgen"
	"github.com/alfredjeanlab/relay/internal/model"
)

// cartActor authenticates the caller and checks access to the cart named
// by the {owner} path value.
func (s *Server) cartActor(r *http.Request) (*model.Actor, string, error) {
	actor, err := s.actor(r.Context())
	if err != nil {
		return nil, "", err
	}
	owner := r.PathValue("owner")
	if err := s.authorize(r.Context(), actor.UserID, model.EntityKey{Kind: model.EntityCart, ID: owner}); err != nil {
		return nil, "", err
	}
	return actor, owner, nil
}

// handleListCartItems handles GET /v1/carts/{owner}/items.
func (s *Server) handleListCartItems(w http.ResponseWriter, r *http.Request) {
	_, owner, err := s.cartActor(r)
	if err != nil {
		s.writeStoreError(w, err, "cart")
		return
	}
	items, err := s.store.ListCartItems(r.Context(), owner)
	if err != nil {
		s.writeStoreError(w, err, "cart")
		return
	}
	if items == nil {
		items = []*model.CartItem{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

type cartItemInput struct {
	ListingID string  `json:"listing_id"`
	Quantity  *int    `json:"quantity"`
	Note      *string `json:"note"`
}

// handleAddCartItem handles POST /v1/carts/{owner}/items.
func (s *Server) handleAddCartItem(w http.ResponseWriter, r *http.Request) {
	actor, owner, err := s.cartActor(r)
	if err != nil {
		s.writeStoreError(w, err, "cart")
		return
	}

	var in cartItemInput
	if err := decodeBody(r, &in); err != nil {
		s.writeStoreError(w, err, "cart item")
		return
	}

	id, err := idgen.CartItem()
	if err != nil {
		s.writeStoreError(w, err, "cart item")
		return
	}
	now := s.clock.Now().UTC()
	item := &model.CartItem{
		ID:        id,
		OwnerID:   owner,
		ListingID: in.ListingID,
		Quantity:  1,
		AddedAt:   now,
		UpdatedAt: now,
	}
	if in.Quantity != nil {
		item.Quantity = *in.Quantity
	}
	if in.Note != nil {
		item.Note = *in.Note
	}
	if err := model.ValidateCartItem(item); err != nil {
		s.writeStoreError(w, err, "cart item")
		return
	}
	if err := s.store.AddCartItem(r.Context(), item); err != nil {
		s.writeStoreError(w, err, "cart item")
		return
	}

	s.fanout.CartItemAdded(r.Context(), item, actor)
	writeJSON(w, http.StatusCreated, item)
}

// handleUpdateCartItem handles PATCH /v1/carts/{owner}/items/{item}.
func (s *Server) handleUpdateCartItem(w http.ResponseWriter, r *http.Request) {
	actor, owner, err := s.cartActor(r)
	if err != nil {
		s.writeStoreError(w, err, "cart")
		return
	}

	var in cartItemInput
	if err := decodeBody(r, &in); err != nil {
		s.writeStoreError(w, err, "cart item")
		return
	}
	if in.ListingID != "" {
		writeError(w, http.StatusBadRequest, "listing_id cannot be changed")
		return
	}

	item, err := s.store.GetCartItem(r.Context(), owner, r.PathValue("item"))
	if err != nil {
		s.writeStoreError(w, err, "cart item")
		return
	}
	if in.Quantity != nil {
		item.Quantity = *in.Quantity
	}
	if in.Note != nil {
		item.Note = *in.Note
	}
	item.UpdatedAt = s.clock.Now().UTC()
	if err := model.ValidateCartItem(item); err != nil {
		s.writeStoreError(w, err, "cart item")
		return
	}
	if err := s.store.UpdateCartItem(r.Context(), item); err != nil {
		s.writeStoreError(w, err, "cart item")
		return
	}

	s.fanout.CartItemUpdated(r.Context(), item, actor)
	writeJSON(w, http.StatusOK, item)
}

// handleRemoveCartItem handles DELETE /v1/carts/{owner}/items/{item}.
func (s *Server) handleRemoveCartItem(w http.ResponseWriter, r *http.Request) {
	actor, owner, err := s.cartActor(r)
	if err != nil {
		s.writeStoreError(w, err, "cart")
		return
	}
	itemID := r.PathValue("item")
	if err := s.store.RemoveCartItem(r.Context(), owner, itemID); err != nil {
		s.writeStoreError(w, err, "cart item")
		return
	}

	s.fanout.CartItemRemoved(r.Context(), owner, itemID, actor)
	w.WriteHeader(http.StatusNoContent)
}

// handleClearCart handles DELETE /v1/carts/{owner}/items.
func (s *Server) handleClearCart(w http.ResponseWriter, r *http.Request) {
	actor, owner, err := s.cartActor(r)
	if err != nil {
		s.writeStoreError(w, err, "cart")
		return
	}
	n, err := s.store.ClearCart(r.Context(), owner)
	if err != nil {
		s.writeStoreError(w, err, "cart")
		return
	}

	if n > 0 {
		s.fanout.CartCleared(r.Context(), owner, actor)
	}
	writeJSON(w, http.StatusOK, map[string]int{"removed": n})
}
