package service

import (
	"context"

	"github.com/guiomkt/angubackend-sub001/domains/whatsapp/be/graph"
)

// TokenExchanger converts an authorization code into a validated bearer
// credential and resolves the authorizing user.
type TokenExchanger interface {
	ExchangeCode(ctx context.Context, code string) (graph.TokenGrant, error)
	Introspect(ctx context.Context, token string) (graph.TokenInfo, error)
	CurrentUser(ctx context.Context, token string) (graph.ProviderUser, error)
}

// AccountDirectory enumerates business entities and their WABA relations.
type AccountDirectory interface {
	ListBusinesses(ctx context.Context, token string) ([]graph.Business, error)
	ListOwnedAccounts(ctx context.Context, token, businessID string) ([]graph.Account, error)
	ListClientAccounts(ctx context.Context, token, businessID string) ([]graph.Account, error)
}

// AccountCreator creates WABAs through the solution-provider credential. The
// three methods map onto the creation strategies, in priority order.
type AccountCreator interface {
	CreateClientAccount(ctx context.Context, targetBusinessID, name string) (string, error)
	CreateDirectAccount(ctx context.Context, targetBusinessID, name string) (string, error)
	CreateSolutionAccount(ctx context.Context, targetBusinessID, name string) (string, error)
}

// AppSubscriber attaches the app to a WABA's event stream. Implementations
// must report re-subscription as (true, nil), not as an error.
type AppSubscriber interface {
	Subscribe(ctx context.Context, token, accountID string) (already bool, err error)
}

// PhoneRegistrar covers the phone lifecycle on a WABA: registration, code
// request, verification and the final Cloud API enablement.
type PhoneRegistrar interface {
	RegisterPhone(ctx context.Context, token, accountID, countryCode, number, verifiedName string) (graph.RegisterResult, error)
	ListPhones(ctx context.Context, token, accountID string) ([]graph.Phone, error)
	RequestCode(ctx context.Context, token, phoneID, language string) error
	VerifyCode(ctx context.Context, token, phoneID, code string) error
	GetPhone(ctx context.Context, token, phoneID string) (graph.Phone, error)
	EnableCloudAPI(ctx context.Context, token, phoneID, pin string) error
}

// ProviderDeps groups the provider ports the workflow consumes. The Graph
// client satisfies all of them; tests swap in per-port stubs.
type ProviderDeps struct {
	Tokens     TokenExchanger
	Directory  AccountDirectory
	Creator    AccountCreator
	Subscriber AppSubscriber
	Phones     PhoneRegistrar
}
