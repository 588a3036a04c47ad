package gateway

import (
	"context"
	"net/http"
	"time"

	"github.com/orgware/owconnect/internal/common"
	"github.com/orgware/owconnect/internal/server/entity"
	"github.com/orgware/owconnect/internal/server/models"
	"github.com/orgware/owconnect/internal/server/services"
)

func recordViews(recs []*models.Record) []models.Document {
	out := make([]models.Document, len(recs))
	for i, r := range recs {
		out[i] = r.View()
	}
	return out
}

func pageView(p *entity.Page) map[string]any {
	return map[string]any{
		"rows":       recordViews(p.Rows),
		"total":      p.Total,
		"page":       p.Page,
		"pageSize":   p.PageSize,
		"totalPages": p.TotalPages,
	}
}

// RegisterEntity exposes the CRUD fields of one collection:
//
//	company(code), companies(page, pageSize, sort, search, searchFields, query),
//	companyRevisions(code) or roleRevisions(_id) when codeless, createCompany(...), updateCompany(_id, ...), deleteCompany(_id)
func RegisterEntity(s *Schema, svc *services.EntityService) {
	def := svc.Definition()

	s.Query(def.Singular, func(ctx context.Context, a Args) (any, error) {
		rec, err := svc.Read(ctx, a.String("code"))
		if err != nil {
			return nil, err
		}
		return rec.View(), nil
	})

	s.Query(def.Collection, func(ctx context.Context, a Args) (any, error) {
		q := entity.ListQuery{
			Page:         a.Int("page"),
			PageSize:     a.Int("pageSize"),
			Sort:         a.String("sort"),
			Search:       a.String("search"),
			SearchFields: a.Strings("searchFields"),
		}
		if filter, ok := a["query"].(map[string]any); ok {
			q.Query = models.Document(filter)
		}
		page, err := svc.List(ctx, q)
		if err != nil {
			return nil, err
		}
		return pageView(page), nil
	})

	s.Query(def.Singular+"Revisions", func(ctx context.Context, a Args) (any, error) {
		var (
			revs []*models.Revision
			err  error
		)
		if def.CodeLength == 0 {
			revs, err = svc.RevisionsByID(ctx, a.String("_id"))
		} else {
			revs, err = svc.Revisions(ctx, a.String("code"))
		}
		if err != nil {
			return nil, err
		}
		out := make([]models.Document, len(revs))
		for i, r := range revs {
			out[i] = r.View()
		}
		return out, nil
	})

	s.Mutation("create"+def.Type, func(ctx context.Context, a Args) (any, error) {
		rec, err := svc.Create(ctx, a.Document())
		if err != nil {
			return nil, err
		}
		return rec.View(), nil
	})

	s.Mutation("update"+def.Type, func(ctx context.Context, a Args) (any, error) {
		rec, err := svc.Update(ctx, a.String("_id"), a.Document("_id"))
		if err != nil {
			return nil, err
		}
		return rec.View(), nil
	})

	s.Mutation("delete"+def.Type, func(ctx context.Context, a Args) (any, error) {
		rec, err := svc.Delete(ctx, a.String("_id"))
		if err != nil {
			return nil, err
		}
		return rec.View(), nil
	})
}

// RegisterContracts adds contractsByEmployee: the live contracts of an
// employee, each with the roles granted on it.
func RegisterContracts(s *Schema, contracts, roles *services.EntityService) {
	s.Query("contractsByEmployee", func(ctx context.Context, a Args) (any, error) {
		recs, err := contracts.FindAll(ctx, models.Document{"employee": a.String("employee")})
		if err != nil {
			return nil, err
		}
		out := make([]models.Document, len(recs))
		for i, rec := range recs {
			granted, err := roles.FindAll(ctx, models.Document{"contract": rec.Code})
			if err != nil {
				return nil, err
			}
			v := rec.View()
			v["roles"] = recordViews(granted)
			out[i] = v
		}
		return out, nil
	})
}

func expiredRefreshCookie() *http.Cookie {
	return &http.Cookie{
		Name:     common.RefreshTokenCookieName,
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
}

// RegisterAuth exposes login, token rotation, logout and the password actions.
func RegisterAuth(s *Schema, auth *services.Authenticator) {
	s.Mutation("login", func(ctx context.Context, a Args) (any, error) {
		res, err := auth.Login(ctx, a.String("username"), a.String("password"))
		if err != nil {
			return nil, err
		}
		SetCookie(ctx, res.Cookie)
		return res, nil
	})

	s.Mutation("refreshToken", func(ctx context.Context, a Args) (any, error) {
		token := a.String("refreshToken")
		if token == "" {
			token = RequestCookie(ctx, common.RefreshTokenCookieName)
		}
		res, err := auth.Refresh(ctx, token)
		if err != nil {
			return nil, err
		}
		SetCookie(ctx, res.Cookie)
		return map[string]any{
			"accessToken":    res.AccessToken,
			"sessionPeriod":  res.SessionPeriod,
			"expirationDate": res.ExpirationDate,
		}, nil
	})

	s.Mutation("logout", func(ctx context.Context, a Args) (any, error) {
		token, ok := BearerToken(RequestHeader(ctx, common.AuthorizationHeaderName))
		if !ok {
			token = RequestCookie(ctx, common.RefreshTokenCookieName)
		}
		if err := auth.Logout(ctx, token); err != nil {
			return nil, err
		}
		SetCookie(ctx, expiredRefreshCookie())
		return true, nil
	})

	s.Mutation("changePassword", func(ctx context.Context, a Args) (any, error) {
		if err := auth.ChangePassword(ctx, a.String("oldPassword"), a.String("newPassword")); err != nil {
			return nil, err
		}
		return true, nil
	})

	s.Mutation("createTemporaryPassword", func(ctx context.Context, a Args) (any, error) {
		return auth.CreateTemporaryPassword(ctx, a.String("username"))
	})

	s.Query("isPasswordValid", func(ctx context.Context, a Args) (any, error) {
		username := a.String("username")
		if username == "" {
			if p, ok := models.PrincipalFrom(ctx); ok {
				username = p.Username
			}
		}
		return auth.IsPasswordValid(ctx, username, a.String("password"))
	})

	s.Query("me", func(ctx context.Context, a Args) (any, error) {
		p, ok := models.PrincipalFrom(ctx)
		if !ok {
			return nil, common.ErrNoAccessToken
		}
		return p, nil
	})
}

// RegisterFiles exposes presigned logo URLs of companies.
func RegisterFiles(s *Schema, files *services.Files) {
	s.Query("companyLogoUploadUrl", func(ctx context.Context, a Args) (any, error) {
		key, url, err := files.LogoUploadURL(ctx, a.String("company"))
		if err != nil {
			return nil, err
		}
		return map[string]any{"key": key, "url": url}, nil
	})

	s.Query("companyLogoUrl", func(ctx context.Context, a Args) (any, error) {
		return files.LogoURL(ctx, a.String("company"))
	})
}
