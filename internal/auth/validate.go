package auth

import "regexp"

var usernameRegex = regexp.MustCompile(`^[a-zA-Z0-9_.-]{3,20}$`)

func ValidUsername(username string) bool {
	return usernameRegex.MatchString(username)
}

func validateNewPassword(password, confirm string, minLength, maxBytes int) error {
	if password != confirm {
		return ErrPasswordMismatch
	}
	if len(password) < minLength {
		return ErrPasswordTooShort
	}
	if maxBytes > 0 && len(password) > maxBytes {
		return ErrPasswordTooLong
	}
	return nil
}
