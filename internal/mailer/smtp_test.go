package mailer

import "testing"

func TestNewSMTPTransport(t *testing.T) {
	t.Run("defaults port", func(t *testing.T) {
		tr, err := NewSMTPTransport(SMTPConfig{
			Host: "smtp.example.com",
			From: "books@example.com",
		})
		if err != nil {
			t.Fatalf("NewSMTPTransport() error = %v", err)
		}
		if tr == nil {
			t.Fatal("expected transport")
		}
	})

	t.Run("requires host", func(t *testing.T) {
		if _, err := NewSMTPTransport(SMTPConfig{From: "books@example.com"}); err == nil {
			t.Error("expected error for missing host")
		}
	})

	t.Run("requires from address", func(t *testing.T) {
		if _, err := NewSMTPTransport(SMTPConfig{Host: "smtp.example.com"}); err == nil {
			t.Error("expected error for missing from address")
		}
	})
}
