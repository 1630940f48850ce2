// Package connectors holds the mail provider integrations. Each provider
// implements driven.MailProvider and is opened per account through a
// driven.ProviderFactory.
package connectors
