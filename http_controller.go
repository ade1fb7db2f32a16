package identity

import (
	"fmt"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/session"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-print"
	"github.com/google/uuid"
)

const oauthStateKey = "oauth_state"

// Controller exposes the identity operations over HTTP. Session state is
// server-side, backed by the Fiber session store; handlers adapt it to
// the core's SessionContext.
type Controller struct {
	Debug    bool
	Logger   Logger
	Service  *Service
	Sessions *session.Store
	Provider DelegatedProvider
}

type ControllerOption func(*Controller) *Controller

func NewController(opts ...ControllerOption) *Controller {
	c := &Controller{
		Logger: defLogger{},
	}

	for _, opt := range opts {
		c = opt(c)
	}

	if c.Service == nil {
		panic("Missing Service in identity controller...")
	}

	if c.Sessions == nil {
		c.Sessions = session.New()
	}

	return c
}

func WithService(svc *Service) ControllerOption {
	return func(c *Controller) *Controller {
		c.Service = svc
		return c
	}
}

func WithSessionStore(store *session.Store) ControllerOption {
	return func(c *Controller) *Controller {
		c.Sessions = store
		return c
	}
}

func WithProvider(provider DelegatedProvider) ControllerOption {
	return func(c *Controller) *Controller {
		c.Provider = provider
		return c
	}
}

func WithControllerLogger(logger Logger) ControllerOption {
	return func(c *Controller) *Controller {
		if logger != nil {
			c.Logger = logger
		}
		return c
	}
}

// RegisterRoutes mounts the identity API. The paths mirror the public
// surface this service has always had; callers mount the router group at
// their own prefix.
func RegisterRoutes(app fiber.Router, c *Controller) {
	app.Post("/create/email", c.CreateLocalAccount)
	app.Post("/create/oauth", c.CreateDelegatedAccount)
	app.Get("/auth/google", c.GoogleBegin)
	app.Get("/auth/google/check", c.GoogleCheck)
	app.Post("/login", c.Login)
	app.Post("/logout", c.Logout)
	app.Post("/change_password", c.ChangePassword)
	app.Post("/confirm_email_request", c.RequestEmailConfirmation)
	app.Post("/confirm_email", c.ConfirmEmail)
	app.Post("/reset_password_request", c.RequestPasswordReset)
	app.Post("/reset_password", c.ResetPassword)
}

// CreateLocalAccountRequest payload
type CreateLocalAccountRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Validate will run validation rules
func (r CreateLocalAccountRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Username, validation.Required),
		validation.Field(&r.Email, validation.Required, is.Email),
		validation.Field(&r.Password, validation.Required),
	)
}

func (c *Controller) CreateLocalAccount(ctx *fiber.Ctx) error {
	payload := new(CreateLocalAccountRequest)
	if err := ctx.BodyParser(payload); err != nil {
		return c.badRequest(ctx, err)
	}

	if err := payload.Validate(); err != nil {
		return c.badRequest(ctx, err)
	}

	if c.Debug {
		c.Logger.Debug("create local account payload: %s", print.MaybePrettyJSON(payload))
	}

	account, err := c.Service.CreateLocalAccount(ctx.UserContext(), payload.Username, payload.Email, payload.Password)
	if err != nil && account == nil {
		return c.renderError(ctx, err)
	}

	body := fiber.Map{
		"message": fmt.Sprintf("User %s (%d) added", account.Username, account.ID),
		"user_id": account.ID,
	}
	if err != nil {
		// Account row committed but the confirmation email did not go out.
		body["warning"] = "confirmation email could not be sent"
	}

	return ctx.Status(fiber.StatusCreated).JSON(body)
}

// CreateDelegatedAccountRequest payload
type CreateDelegatedAccountRequest struct {
	Username string `json:"username"`
}

// Validate will run validation rules
func (r CreateDelegatedAccountRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Username, validation.Required),
	)
}

func (c *Controller) CreateDelegatedAccount(ctx *fiber.Ctx) error {
	payload := new(CreateDelegatedAccountRequest)
	if err := ctx.BodyParser(payload); err != nil {
		return c.badRequest(ctx, err)
	}

	if err := payload.Validate(); err != nil {
		return c.badRequest(ctx, err)
	}

	sess, err := c.session(ctx)
	if err != nil {
		return c.renderError(ctx, err)
	}

	account, err := c.Service.CreateDelegatedAccount(ctx.UserContext(), sess, payload.Username)
	if err != nil {
		return c.renderError(ctx, err)
	}

	return ctx.Status(fiber.StatusCreated).JSON(fiber.Map{
		"message": fmt.Sprintf("User %s added", account.Username),
		"user_id": account.ID,
	})
}

// GoogleBegin starts the delegated login handshake, parking a CSRF nonce
// in the session before handing the user to the provider.
func (c *Controller) GoogleBegin(ctx *fiber.Ctx) error {
	if c.Provider == nil {
		return c.renderError(ctx, goerrors.New("no delegated identity provider configured", goerrors.CategoryInternal))
	}

	sess, err := c.session(ctx)
	if err != nil {
		return c.renderError(ctx, err)
	}

	state := uuid.NewString()
	sess.Set(oauthStateKey, state)
	if err := sess.Save(); err != nil {
		return c.renderError(ctx, err)
	}

	return ctx.Redirect(c.Provider.AuthCodeURL(state), fiber.StatusSeeOther)
}

// GoogleCheck is the provider callback: it verifies the state nonce,
// exchanges the code for a verified email, and either logs the account in
// or parks the email as a pending registration. Both branches redirect to
// the site root.
func (c *Controller) GoogleCheck(ctx *fiber.Ctx) error {
	if c.Provider == nil {
		return c.renderError(ctx, goerrors.New("no delegated identity provider configured", goerrors.CategoryInternal))
	}

	sess, err := c.session(ctx)
	if err != nil {
		return c.renderError(ctx, err)
	}

	// The nonce is single use: its removal must persist even when the
	// callback is rejected, or the same state could be replayed.
	state, _ := sess.Get(oauthStateKey).(string)
	sess.Delete(oauthStateKey)
	if state == "" || ctx.Query("state") != state {
		if err := sess.Save(); err != nil {
			return c.renderError(ctx, err)
		}
		return c.badRequest(ctx, goerrors.New("oauth state mismatch", goerrors.CategoryBadInput))
	}

	code := ctx.Query("code")
	if code == "" {
		if err := sess.Save(); err != nil {
			return c.renderError(ctx, err)
		}
		return c.badRequest(ctx, goerrors.New("missing authorization code", goerrors.CategoryBadInput))
	}

	email, grant, err := c.Provider.VerifyIdentity(ctx.UserContext(), code)
	if err != nil {
		if saveErr := sess.Save(); saveErr != nil {
			c.Logger.Error("failed to save session: %v", saveErr)
		}
		return c.renderError(ctx, err)
	}

	if _, err := c.Service.CompleteDelegatedLogin(ctx.UserContext(), sess, email, grant); err != nil {
		return c.renderError(ctx, err)
	}

	return ctx.Redirect("/", fiber.StatusSeeOther)
}

// LoginRequest payload. Either username or email identifies the account.
type LoginRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Validate will run validation rules
func (r LoginRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Password, validation.Required),
	)
}

func (r LoginRequest) identifier() string {
	if r.Email != "" {
		return r.Email
	}
	return r.Username
}

func (c *Controller) Login(ctx *fiber.Ctx) error {
	payload := new(LoginRequest)
	if err := ctx.BodyParser(payload); err != nil {
		return c.badRequest(ctx, err)
	}

	if err := payload.Validate(); err != nil {
		return c.badRequest(ctx, err)
	}

	if payload.identifier() == "" {
		return c.badRequest(ctx, goerrors.New("username/email not in request", goerrors.CategoryBadInput))
	}

	sess, err := c.session(ctx)
	if err != nil {
		return c.renderError(ctx, err)
	}

	if _, err := c.Service.Login(ctx.UserContext(), sess, payload.identifier(), payload.Password); err != nil {
		return c.renderError(ctx, err)
	}

	return ctx.JSON(fiber.Map{"message": "Logged in"})
}

func (c *Controller) Logout(ctx *fiber.Ctx) error {
	sess, err := c.session(ctx)
	if err != nil {
		return c.renderError(ctx, err)
	}

	if err := c.Service.Logout(ctx.UserContext(), sess); err != nil {
		// Local teardown already happened; the upstream revoke did not.
		return c.renderError(ctx, err)
	}

	return ctx.JSON(fiber.Map{"message": "Logged out"})
}

// ChangePasswordRequest payload
type ChangePasswordRequest struct {
	OldPassword string `json:"old_password"`
	NewPassword string `json:"new_password"`
}

// Validate will run validation rules
func (r ChangePasswordRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.OldPassword, validation.Required),
		validation.Field(&r.NewPassword, validation.Required),
	)
}

func (c *Controller) ChangePassword(ctx *fiber.Ctx) error {
	payload := new(ChangePasswordRequest)
	if err := ctx.BodyParser(payload); err != nil {
		return c.badRequest(ctx, err)
	}

	if err := payload.Validate(); err != nil {
		return c.badRequest(ctx, err)
	}

	sess, err := c.session(ctx)
	if err != nil {
		return c.renderError(ctx, err)
	}

	if err := c.Service.ChangePassword(ctx.UserContext(), sess, payload.OldPassword, payload.NewPassword); err != nil {
		return c.renderError(ctx, err)
	}

	return ctx.JSON(fiber.Map{"message": "Password changed"})
}

func (c *Controller) RequestEmailConfirmation(ctx *fiber.Ctx) error {
	sess, err := c.session(ctx)
	if err != nil {
		return c.renderError(ctx, err)
	}

	if err := c.Service.RequestEmailConfirmation(ctx.UserContext(), sess); err != nil {
		return c.renderError(ctx, err)
	}

	return ctx.JSON(fiber.Map{"message": "New confirmation email sent"})
}

// ConfirmEmailRequest payload
type ConfirmEmailRequest struct {
	Token string `json:"token"`
}

// Validate will run validation rules
func (r ConfirmEmailRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Token, validation.Required),
	)
}

func (c *Controller) ConfirmEmail(ctx *fiber.Ctx) error {
	payload := new(ConfirmEmailRequest)
	if err := ctx.BodyParser(payload); err != nil {
		return c.badRequest(ctx, err)
	}

	if err := payload.Validate(); err != nil {
		return c.badRequest(ctx, err)
	}

	if err := c.Service.ConfirmEmail(ctx.UserContext(), payload.Token); err != nil {
		return c.renderError(ctx, err)
	}

	return ctx.JSON(fiber.Map{"message": "Email confirmed"})
}

// ResetPasswordRequestRequest payload
type ResetPasswordRequestRequest struct {
	Email string `json:"email"`
}

// Validate will run validation rules
func (r ResetPasswordRequestRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, is.Email),
	)
}

func (c *Controller) RequestPasswordReset(ctx *fiber.Ctx) error {
	payload := new(ResetPasswordRequestRequest)
	if err := ctx.BodyParser(payload); err != nil {
		return c.badRequest(ctx, err)
	}

	if err := payload.Validate(); err != nil {
		return c.badRequest(ctx, err)
	}

	if err := c.Service.RequestPasswordReset(ctx.UserContext(), payload.Email); err != nil {
		return c.renderError(ctx, err)
	}

	// Uniform response: never reveals whether the email exists.
	return ctx.JSON(fiber.Map{
		"message": fmt.Sprintf("If the account for %s exists, an email has been sent with a reset link", payload.Email),
	})
}

// ResetPasswordRequest payload
type ResetPasswordRequest struct {
	UserID   int64  `json:"user_id"`
	Password string `json:"password"`
	Token    string `json:"token"`
}

// Validate will run validation rules
func (r ResetPasswordRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.UserID, validation.Required),
		validation.Field(&r.Password, validation.Required),
		validation.Field(&r.Token, validation.Required),
	)
}

func (c *Controller) ResetPassword(ctx *fiber.Ctx) error {
	payload := new(ResetPasswordRequest)
	if err := ctx.BodyParser(payload); err != nil {
		return c.badRequest(ctx, err)
	}

	if err := payload.Validate(); err != nil {
		return c.badRequest(ctx, err)
	}

	if err := c.Service.ResetPassword(ctx.UserContext(), payload.UserID, payload.Password, payload.Token); err != nil {
		return c.renderError(ctx, err)
	}

	return ctx.JSON(fiber.Map{"message": "Password changed"})
}

// session loads the request's server-side session wrapped as the core's
// SessionContext.
func (c *Controller) session(ctx *fiber.Ctx) (SessionContext, error) {
	sess, err := c.Sessions.Get(ctx)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to load session")
	}
	return &fiberSession{sess: sess}, nil
}

func (c *Controller) badRequest(ctx *fiber.Ctx, err error) error {
	c.Logger.Debug("bad request: %v", err)
	return ctx.Status(fiber.StatusBadRequest).JSON(fiber.Map{
		"error": err.Error(),
	})
}

func (c *Controller) renderError(ctx *fiber.Ctx, err error) error {
	status := HTTPStatus(err)

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		if status >= fiber.StatusInternalServerError {
			c.Logger.Error("identity operation failed: %v", err)
		}
		return ctx.Status(status).JSON(fiber.Map{
			"error": richErr.Message,
			"code":  richErr.TextCode,
		})
	}

	c.Logger.Error("identity operation failed: %v", err)
	return ctx.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"error": "internal server error",
	})
}

// fiberSession adapts the Fiber session to SessionContext.
type fiberSession struct {
	sess *session.Session
}

var _ SessionContext = (*fiberSession)(nil)

func (f *fiberSession) Get(key string) any {
	return f.sess.Get(key)
}

func (f *fiberSession) Set(key string, value any) {
	f.sess.Set(key, value)
}

func (f *fiberSession) Delete(key string) {
	f.sess.Delete(key)
}

func (f *fiberSession) Reset() error {
	return f.sess.Reset()
}

func (f *fiberSession) Save() error {
	return f.sess.Save()
}
