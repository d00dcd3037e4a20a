// Package flow maps hub paths to flow modes and validates the hub's forms.
package flow

import (
	"errors"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/dalemusser/authhub/internal/app/system/identity"
	"github.com/dalemusser/authhub/internal/app/system/returnto"
)

// Mode is the kind of page a request renders.
type Mode int

const (
	Login Mode = iota
	Logout
	Signup
	CheckEmail
	RecoverPassword
	SetNewPassword
)

// Hub paths.
const (
	PathLogin           = "/"
	PathLogout          = "/logout"
	PathSignup          = "/cadastro"
	PathCheckEmail      = "/check-email"
	PathRecoverPassword = "/recuperar-senha"
	PathSetNewPassword  = "/nova-senha"
)

var modeNames = map[Mode]string{
	Login:           "login",
	Logout:          "logout",
	Signup:          "signup",
	CheckEmail:      "check_email",
	RecoverPassword: "recover_password",
	SetNewPassword:  "set_new_password",
}

var modePaths = map[Mode]string{
	Login:           PathLogin,
	Logout:          PathLogout,
	Signup:          PathSignup,
	CheckEmail:      PathCheckEmail,
	RecoverPassword: PathRecoverPassword,
	SetNewPassword:  PathSetNewPassword,
}

func (m Mode) String() string {
	if s, ok := modeNames[m]; ok {
		return s
	}
	return "unknown"
}

// Path returns the hub path that renders m.
func (m Mode) Path() string {
	return modePaths[m]
}

// Resolve picks the flow mode for a request. Unknown paths resolve to Login.
func Resolve(path string, query url.Values, p returnto.Policy) Mode {
	switch returnto.CleanPath(path) {
	case PathSignup:
		return Signup
	case PathCheckEmail:
		return CheckEmail
	case PathRecoverPassword:
		return RecoverPassword
	case PathSetNewPassword:
		return SetNewPassword
	case PathLogout:
		return Logout
	}
	if p.DetectLogout(path, query, query.Get(returnto.Param)) {
		return Logout
	}
	return Login
}

// LinkTo builds a hub link for mode that carries the return target.
func LinkTo(m Mode, target returnto.Target) string {
	return m.Path() + "?" + returnto.Param + "=" + url.QueryEscape(returnto.StripAuthFragment(target).String())
}

/*──── validation ────*/

// User-facing messages.
const (
	MsgFillAllFields     = "Preencha todos os campos."
	MsgInvalidLogin      = "Email ou senha incorretos"
	MsgNameRequired      = "Informe seu nome completo."
	MsgEmailInvalid      = "Informe um e-mail válido."
	MsgPasswordTooShort  = "A senha deve ter pelo menos 6 caracteres."
	MsgPasswordMismatch  = "As senhas não coincidem."
	MsgPhoneInvalid      = "Telefone inválido. Use apenas números (máximo 11 dígitos)."
	MsgGenericFailure    = "Não foi possível concluir a operação. Tente novamente."
	MsgTooManyAttempts   = "Muitas tentativas. Aguarde alguns instantes."
	MsgLinkExpired       = "Link inválido ou expirado. Solicite um novo."
	backendInvalidLogin  = "Invalid login credentials"
	minPasswordLen       = 6
	minNameLen           = 2
	maxPhoneDigits       = 11
	phoneFormattingChars = " -().+"
)

// ValidationError is a form error detected before any backend call.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

func invalid(field, msg string) error {
	return &ValidationError{Field: field, Message: msg}
}

// LoginInput is the login form.
type LoginInput struct {
	Email    string
	Password string
}

// Validate checks that both fields are present.
func (in LoginInput) Validate() error {
	if strings.TrimSpace(in.Email) == "" || in.Password == "" {
		return invalid("", MsgFillAllFields)
	}
	return nil
}

// SignupInput is the sign-up form.
type SignupInput struct {
	FullName        string
	Email           string
	Phone           string
	Password        string
	ConfirmPassword string
}

// Validate checks the sign-up form and returns the first problem found.
func (in SignupInput) Validate() error {
	if utf8.RuneCountInString(strings.TrimSpace(in.FullName)) < minNameLen {
		return invalid("full_name", MsgNameRequired)
	}
	if !strings.Contains(in.Email, "@") {
		return invalid("email", MsgEmailInvalid)
	}
	if _, ok := CleanPhone(in.Phone); !ok {
		return invalid("phone", MsgPhoneInvalid)
	}
	return validateNewPassword(in.Password, in.ConfirmPassword)
}

// RecoverInput is the password recovery request form.
type RecoverInput struct {
	Email string
}

func (in RecoverInput) Validate() error {
	if !strings.Contains(in.Email, "@") {
		return invalid("email", MsgEmailInvalid)
	}
	return nil
}

// NewPasswordInput is the set-new-password form.
type NewPasswordInput struct {
	Password        string
	ConfirmPassword string
}

func (in NewPasswordInput) Validate() error {
	return validateNewPassword(in.Password, in.ConfirmPassword)
}

func validateNewPassword(pw, confirm string) error {
	if utf8.RuneCountInString(pw) < minPasswordLen {
		return invalid("password", MsgPasswordTooShort)
	}
	if pw != confirm {
		return invalid("confirm_password", MsgPasswordMismatch)
	}
	return nil
}

// CleanPhone strips formatting characters from raw. The result is valid
// when it is empty or at most 11 digits.
func CleanPhone(raw string) (string, bool) {
	var b strings.Builder
	for _, r := range raw {
		if strings.ContainsRune(phoneFormattingChars, r) {
			continue
		}
		if r < '0' || r > '9' {
			return "", false
		}
		b.WriteRune(r)
	}
	digits := b.String()
	return digits, len(digits) <= maxPhoneDigits
}

// BackendMessage is the text shown for a failed backend call. Only the
// generic invalid-credentials message is translated.
func BackendMessage(err error) string {
	if err == nil {
		return ""
	}
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Message
	}
	var ie *identity.Error
	if errors.As(err, &ie) {
		if ie.Message == backendInvalidLogin {
			return MsgInvalidLogin
		}
		return ie.Error()
	}
	if errors.Is(err, identity.ErrUnsupported) {
		return identity.UnsupportedMessage
	}
	if errors.Is(err, identity.ErrNoSession) {
		return MsgLinkExpired
	}
	return MsgGenericFailure
}
