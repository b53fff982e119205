package validation

import (
	"errors"
	"testing"
)

func TestLoginFormMessages(t *testing.T) {
	cases := []struct {
		name  string
		form  LoginForm
		field string
		want  string
	}{
		{"missing email", LoginForm{Password: "secret1"}, "email", "Email is required"},
		{"bad email", LoginForm{Email: "ada@example", Password: "secret1"}, "email", "Enter a valid email address"},
		{"spaces in email", LoginForm{Email: "a da@example.com", Password: "secret1"}, "email", "Enter a valid email address"},
		{"missing password", LoginForm{Email: "ada@example.com"}, "password", "Password is required"},
		{"short password", LoginForm{Email: "ada@example.com", Password: "12345"}, "password", "Password must be at least 6 characters"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := Struct(tc.form)
			var errs Errors
			if !errors.As(err, &errs) {
				t.Fatalf("expected Errors, got %v", err)
			}
			if errs[tc.field] != tc.want {
				t.Fatalf("expected %q for %s, got %v", tc.want, tc.field, errs)
			}
		})
	}
}

func TestLoginFormValid(t *testing.T) {
	if err := Struct(LoginForm{Email: "ada@example.com", Password: "secret1"}); err != nil {
		t.Fatalf("expected valid form, got %v", err)
	}
}

func TestRegistrationForm(t *testing.T) {
	err := Struct(RegistrationForm{
		Email:           "ada@example.com",
		Password:        "secret1",
		ConfirmPassword: "secret2",
	})
	var errs Errors
	if !errors.As(err, &errs) {
		t.Fatalf("expected Errors, got %v", err)
	}
	want := map[string]string{
		"first_name":      "First name is required.",
		"last_name":       "Last name is required.",
		"confirmPassword": "Passwords do not match.",
	}
	for field, msg := range want {
		if errs[field] != msg {
			t.Fatalf("expected %q for %s, got %v", msg, field, errs)
		}
	}
	if _, ok := errs["email"]; ok {
		t.Fatalf("email should be valid, got %v", errs)
	}
}

func TestRegistrationMissingConfirmation(t *testing.T) {
	err := Struct(RegistrationForm{FirstName: "Ada", LastName: "Lovelace", Email: "ada@example.com", Password: "secret1"})
	var errs Errors
	if !errors.As(err, &errs) || errs["confirmPassword"] != "Confirmation Password is required." {
		t.Fatalf("unexpected result %v", err)
	}
}

func TestValidEmail(t *testing.T) {
	if !ValidEmail("a@b.co") || ValidEmail("a@b") || ValidEmail("@b.co") {
		t.Fatalf("email pattern mismatch")
	}
}
