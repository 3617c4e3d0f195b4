package handlers

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"expense-categories/app"
	"expense-categories/middleware"
	"expense-categories/models"
	"expense-categories/services"
	"expense-categories/storage"
	"expense-categories/validator"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/valyala/fasthttp"
)

var (
	readyTimeout      = 5 * time.Second
	heartbeatInterval = 25 * time.Second
)

type categoryView struct {
	models.Category
	Total float64 `json:"total"`
}

func categoryViews(categories []models.Category) ([]categoryView, float64) {
	views := make([]categoryView, 0, len(categories))
	var grand float64
	for _, cat := range categories {
		total := cat.Total()
		grand += total
		views = append(views, categoryView{Category: cat, Total: total})
	}
	return views, grand
}

// storeFor returns the open category store of the authenticated user
func storeFor(c *fiber.Ctx, a *app.App) (*services.CategoryStore, error) {
	return a.AuthService.StoreFor(c.UserContext(), middleware.GetSession(c))
}

// waitReady waits for the first snapshot, bounded by readyTimeout
func waitReady(c *fiber.Ctx, store *services.CategoryStore) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), readyTimeout)
	defer cancel()
	return store.WaitReady(ctx)
}

// writeError maps category store errors to responses
func writeError(c *fiber.Ctx, message string, err error) error {
	switch {
	case validator.IsValidationError(err):
		return validationError(c, err)
	case errors.Is(err, storage.ErrNotFound):
		return notFound(c, "Category not found")
	default:
		return serverErrorWithDetails(c, message, err)
	}
}

// GetCategories returns the user's categories with per-category totals
func GetCategories(a *app.App) fiber.Handler {
	return func(c *fiber.Ctx) error {
		store, err := storeFor(c, a)
		if err != nil {
			return serverErrorWithDetails(c, "Failed to open categories", err)
		}

		if err := waitReady(c, store); err != nil {
			return stillLoading(c)
		}
		if err := store.Err(); err != nil {
			a.Logger.Warn("serving categories from a failed subscription", "user_id", middleware.GetUserID(c), "error", err)
		}

		views, total := categoryViews(store.Categories())
		return success(c, fiber.Map{
			"categories": views,
			"total":      total,
		})
	}
}

// CreateCategory adds a category. The new category shows up in the next snapshot.
func CreateCategory(a *app.App) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req models.NewCategory
		if err := c.BodyParser(&req); err != nil {
			return badRequest(c, "Invalid request body")
		}

		if err := a.Validator.Validate(&req); err != nil {
			return validationError(c, err)
		}

		store, err := storeFor(c, a)
		if err != nil {
			return serverErrorWithDetails(c, "Failed to open categories", err)
		}

		if err := store.AddCategory(c.UserContext(), req); err != nil {
			return writeError(c, "Failed to create category", err)
		}

		return accepted(c, fiber.Map{"success": true})
	}
}

// UpdateCategory merges the supplied fields into a category
func UpdateCategory(a *app.App) fiber.Handler {
	return func(c *fiber.Ctx) error {
		categoryID := c.Params("id")
		if categoryID == "" {
			return badRequest(c, "category ID is required")
		}

		var req models.CategoryUpdate
		if err := c.BodyParser(&req); err != nil {
			return badRequest(c, "Invalid request body")
		}

		if err := a.Validator.Validate(&req); err != nil {
			return validationError(c, err)
		}

		store, err := storeFor(c, a)
		if err != nil {
			return serverErrorWithDetails(c, "Failed to open categories", err)
		}

		if err := store.UpdateCategory(c.UserContext(), categoryID, req); err != nil {
			return writeError(c, "Failed to update category", err)
		}

		return accepted(c, fiber.Map{"success": true})
	}
}

// DeleteCategory removes a category and its expenses
func DeleteCategory(a *app.App) fiber.Handler {
	return func(c *fiber.Ctx) error {
		categoryID := c.Params("id")
		if categoryID == "" {
			return badRequest(c, "category ID is required")
		}

		store, err := storeFor(c, a)
		if err != nil {
			return serverErrorWithDetails(c, "Failed to open categories", err)
		}

		if err := store.DeleteCategory(c.UserContext(), categoryID); err != nil {
			return writeError(c, "Failed to delete category", err)
		}

		return accepted(c, fiber.Map{"success": true})
	}
}

// AddExpense appends an expense to a category
func AddExpense(a *app.App) fiber.Handler {
	return func(c *fiber.Ctx) error {
		categoryID := c.Params("id")

		var req models.NewExpense
		if err := c.BodyParser(&req); err != nil {
			return badRequest(c, "Invalid request body")
		}

		if err := a.Validator.Validate(&req); err != nil {
			return validationError(c, err)
		}

		store, err := storeFor(c, a)
		if err != nil {
			return serverErrorWithDetails(c, "Failed to open categories", err)
		}

		if err := waitReady(c, store); err != nil {
			return stillLoading(c)
		}
		if _, ok := store.Category(categoryID); !ok {
			return notFound(c, "Category not found")
		}

		if err := store.AddExpense(c.UserContext(), categoryID, req); err != nil {
			return writeError(c, "Failed to add expense", err)
		}

		return accepted(c, fiber.Map{"success": true})
	}
}

// DeleteExpense removes an expense from a category
func DeleteExpense(a *app.App) fiber.Handler {
	return func(c *fiber.Ctx) error {
		categoryID := c.Params("id")
		expenseID := c.Params("expenseId")
		if expenseID == "" {
			return badRequest(c, "expense ID is required")
		}

		store, err := storeFor(c, a)
		if err != nil {
			return serverErrorWithDetails(c, "Failed to open categories", err)
		}

		if err := waitReady(c, store); err != nil {
			return stillLoading(c)
		}
		if _, ok := store.Category(categoryID); !ok {
			return notFound(c, "Category not found")
		}

		if err := store.DeleteExpense(c.UserContext(), categoryID, expenseID); err != nil {
			return writeError(c, "Failed to delete expense", err)
		}

		return accepted(c, fiber.Map{"success": true})
	}
}

// StreamCategories pushes every snapshot to the client as a server-sent event.
// Snapshots arriving faster than the client reads are coalesced. The stream
// holds the user's store open and ends with a "closed" event when the store
// is closed anyway, e.g. on shutdown.
func StreamCategories(a *app.App) fiber.Handler {
	return func(c *fiber.Ctx) error {
		sess := middleware.GetSession(c)
		if sess == nil {
			return unauthorized(c, "Not authenticated")
		}

		store, drop, err := a.Registry.Hold(c.UserContext(), sess.User())
		if err != nil {
			return serverErrorWithDetails(c, "Failed to open categories", err)
		}
		_ = waitReady(c, store)

		updates := make(chan []models.Category, 1)
		unsubscribe := store.Listen(func(categories []models.Category) {
			select {
			case updates <- categories:
			default:
				select {
				case <-updates:
				default:
				}
				updates <- categories
			}
		})
		closed := store.Closed()

		userID := sess.UserID
		c.Set("Content-Type", "text/event-stream")
		c.Set("Cache-Control", "no-cache")
		c.Set("Connection", "keep-alive")
		c.Set("X-Accel-Buffering", "no")

		c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
			defer drop()
			defer unsubscribe()

			if err := writeSnapshotEvent(w, store.Categories()); err != nil {
				return
			}

			ticker := time.NewTicker(heartbeatInterval)
			defer ticker.Stop()

			for {
				select {
				case categories := <-updates:
					if err := writeSnapshotEvent(w, categories); err != nil {
						a.Logger.Debug("category stream closed", "user_id", userID, "error", err)
						return
					}
				case <-closed:
					// Listeners are done once the store is closed; flush the last one
					select {
					case categories := <-updates:
						if err := writeSnapshotEvent(w, categories); err != nil {
							return
						}
					default:
					}
					fmt.Fprint(w, "event: closed\ndata: {}\n\n")
					w.Flush()
					a.Logger.Debug("category store closed, ending stream", "user_id", userID)
					return
				case <-ticker.C:
					if _, err := w.WriteString(": ping\n\n"); err != nil {
						return
					}
					if err := w.Flush(); err != nil {
						a.Logger.Debug("category stream closed", "user_id", userID, "error", err)
						return
					}
				}
			}
		}))

		return nil
	}
}

// writeSnapshotEvent writes one "categories" event and flushes it
func writeSnapshotEvent(w *bufio.Writer, categories []models.Category) error {
	views, total := categoryViews(categories)
	payload, err := json.Marshal(fiber.Map{"categories": views, "total": total})
	if err != nil {
		return err
	}

	if _, err := fmt.Fprintf(w, "event: categories\ndata: %s\n\n", payload); err != nil {
		return err
	}
	return w.Flush()
}
