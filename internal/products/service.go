package product

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/angelmondragon/packfinderz-storefront/internal/apiclient"
	pkgerrors "github.com/angelmondragon/packfinderz-storefront/pkg/errors"
	"github.com/angelmondragon/packfinderz-storefront/pkg/logger"
	"github.com/angelmondragon/packfinderz-storefront/pkg/validate"
	"github.com/shopspring/decimal"
)

const (
	productsPath = "/api/products"
	searchPath   = "/api/products/search"
	maxTitleLen  = 200
)

// Service exposes the product catalogue operations of the backend.
type Service interface {
	List(ctx context.Context) ([]Product, error)
	Search(ctx context.Context, query string) ([]Product, error)
	Get(ctx context.Context, id string) (*Product, error)
	Create(ctx context.Context, input ProductInput) (*Product, error)
	Update(ctx context.Context, id string, input ProductInput) (*Product, error)
	Delete(ctx context.Context, id string) error
}

type apiClient interface {
	Do(ctx context.Context, req apiclient.Request) (*apiclient.Response, error)
	GetJSON(ctx context.Context, path string, query url.Values, out any) error
	Delete(ctx context.Context, path string) error
}

type service struct {
	client apiClient
	logg   *logger.Logger
}

// NewService constructs a product service over an authenticated client.
func NewService(client apiClient, logg *logger.Logger) (Service, error) {
	if client == nil {
		return nil, fmt.Errorf("api client is required")
	}
	if logg == nil {
		logg = logger.Nop()
	}
	return &service{client: client, logg: logg}, nil
}

func (s *service) List(ctx context.Context) ([]Product, error) {
	var products []Product
	if err := s.client.GetJSON(ctx, productsPath, nil, &products); err != nil {
		return nil, err
	}
	return nonNil(products), nil
}

func (s *service) Search(ctx context.Context, query string) ([]Product, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "search query is required")
	}
	var products []Product
	if err := s.client.GetJSON(ctx, searchPath, url.Values{"query": []string{query}}, &products); err != nil {
		return nil, err
	}
	return nonNil(products), nil
}

func (s *service) Get(ctx context.Context, id string) (*Product, error) {
	path, err := productPath(id)
	if err != nil {
		return nil, err
	}
	var product Product
	if err := s.client.GetJSON(ctx, path, nil, &product); err != nil {
		return nil, err
	}
	return &product, nil
}

func (s *service) Create(ctx context.Context, input ProductInput) (*Product, error) {
	return s.submit(ctx, http.MethodPost, productsPath, input)
}

func (s *service) Update(ctx context.Context, id string, input ProductInput) (*Product, error) {
	path, err := productPath(id)
	if err != nil {
		return nil, err
	}
	return s.submit(ctx, http.MethodPut, path, input)
}

func (s *service) Delete(ctx context.Context, id string) error {
	path, err := productPath(id)
	if err != nil {
		return err
	}
	if err := s.client.Delete(ctx, path); err != nil {
		return err
	}
	s.logg.Info(s.logg.WithProductID(ctx, id), "product deleted")
	return nil
}

func (s *service) submit(ctx context.Context, method, path string, input ProductInput) (*Product, error) {
	input.Title = validate.SanitizeString(input.Title, maxTitleLen)
	input.Description = strings.TrimSpace(input.Description)
	if err := validate.Struct(input); err != nil {
		return nil, err
	}
	form, err := buildForm(input)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(ctx, apiclient.Request{Method: method, Path: path, Form: form})
	if err != nil {
		return nil, err
	}
	var product Product
	if err := resp.DecodeData(&product); err != nil {
		return nil, err
	}
	s.logg.Info(s.logg.WithProductID(ctx, product.ID), "product saved")
	return &product, nil
}

func buildForm(input ProductInput) (*apiclient.Form, error) {
	form := &apiclient.Form{}
	form.Add("title", input.Title)
	form.Add("description", input.Description)
	form.Add("price", decimal.NewFromFloat(input.Price).String())
	if input.Location != nil {
		raw, err := json.Marshal(input.Location)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "encode location")
		}
		form.Add("location", string(raw))
	}
	for _, img := range input.Images {
		form.AddFile("images", img.Filename, img.ContentType, img.Content)
	}
	return form, nil
}

func productPath(id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "product id is required")
	}
	return productsPath + "/" + url.PathEscape(id), nil
}

func nonNil(products []Product) []Product {
	if products == nil {
		return []Product{}
	}
	return products
}
